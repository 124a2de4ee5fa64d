package health

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxduplex/pkg/audio"
)

// StateFunc reports the current state of an audio engine.
type StateFunc func() audio.State

// EngineChecker returns a [Checker] that passes while the engine is Idle or
// Active, that is, after a successful Begin or Connect and before End or Close.
func EngineChecker(name string, state StateFunc) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			switch s := state(); s {
			case audio.StateIdle, audio.StateActive:
				return nil
			default:
				return fmt.Errorf("engine %s", s)
			}
		},
	}
}
