package prerollvalve_test

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	prerollvalve "github.com/e7canasta/orion-care-sensor/modules/preroll-valve"
)

// Example of buffering a stream and opening the valve on an event.
func ExampleValve() {
	cfg := prerollvalve.DefaultConfig()
	cfg.MaxHistory = 100 * time.Millisecond
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	sink := prerollvalve.SinkFunc(func(u prerollvalve.Unit) error {
		fmt.Printf("emit t=%v key=%v\n", u.Timestamp, u.Keyframe)
		return nil
	})

	valve, err := prerollvalve.NewValve(cfg, sink)
	if err != nil {
		panic(err)
	}

	for _, ts := range []int{0, 20, 40, 60, 80, 120} {
		_, _ = valve.Push(prerollvalve.Unit{
			Timestamp: time.Duration(ts) * time.Millisecond,
			Keyframe:  ts == 0 || ts == 60,
		})
	}

	// event detected: flush preroll, then pass live units through
	_, _ = valve.SetOpen(true)
	_, _ = valve.Push(prerollvalve.Unit{Timestamp: 140 * time.Millisecond})

	// Output:
	// emit t=60ms key=true
	// emit t=80ms key=false
	// emit t=120ms key=false
	// emit t=140ms key=false
}

func ExampleParseFlushMode() {
	mode, err := prerollvalve.ParseFlushMode("earliest-keyframe")
	fmt.Println(mode, err)

	_, err = prerollvalve.ParseFlushMode("middle")
	fmt.Println(err)

	// Output:
	// earliest-keyframe <nil>
	// prerollvalve: invalid flush mode: "middle"
}
