//go:build !headless

package main

import (
	"time"

	"github.com/MrWong99/siggen/internal/config"
	"github.com/MrWong99/siggen/pkg/audio"
	"github.com/MrWong99/siggen/pkg/audio/oto"
)

func init() {
	deviceBackends = append(deviceBackends, func(reg *config.Registry) {
		reg.RegisterBackend(oto.Name, func(c config.AudioConfig) (audio.Backend, error) {
			// Two blocks of device buffering.
			buffer := 2 * time.Duration(c.BlockSize) * time.Second / time.Duration(c.SampleRate)
			return oto.New(audioFormat(c), buffer)
		})
	})
}
