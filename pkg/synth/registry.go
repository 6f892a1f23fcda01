package synth

// Registry is the append-only, ordered collection of live voices. Ids are
// assigned in insertion order starting at zero and stay valid for the
// lifetime of the registry.
//
// A Registry is populated before audio starts and then only read, so it
// needs no locking of its own.
type Registry struct {
	voices []*Voice
}

// NewRegistry returns an empty registry with room for n voices.
func NewRegistry(n int) *Registry {
	return &Registry{voices: make([]*Voice, 0, n)}
}

// Add constructs a voice playing wave, appends it and returns it.
func (r *Registry) Add(name string, wave Waveform) *Voice {
	v := NewVoice(VoiceID(len(r.voices)), name, wave)
	r.voices = append(r.voices, v)
	return v
}

// Len returns the number of registered voices.
func (r *Registry) Len() int { return len(r.voices) }

// Get returns the voice with the given id. ok is false for ids outside the
// registry.
func (r *Registry) Get(id VoiceID) (v *Voice, ok bool) {
	if id < 0 || int(id) >= len(r.voices) {
		return nil, false
	}
	return r.voices[id], true
}

// All returns the registered voices in id order. The slice is shared and
// must not be modified.
func (r *Registry) All() []*Voice { return r.voices }
