//go:build portaudio

package main

import (
	"github.com/MrWong99/siggen/internal/config"
	"github.com/MrWong99/siggen/pkg/audio"
	"github.com/MrWong99/siggen/pkg/audio/portaudio"
)

func init() {
	deviceBackends = append(deviceBackends, func(reg *config.Registry) {
		reg.RegisterBackend(portaudio.Name, func(c config.AudioConfig) (audio.Backend, error) {
			return portaudio.New(audioFormat(c), c.BlockSize)
		})
	})
}
