package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Process runs a single envelope through the pipeline and prints the stored
// metrics as JSON.
func (a *App) Process(ctx context.Context, opts ProcessOptions) error {
	if err := a.Config.RequirePipeline(); err != nil {
		return err
	}

	payload, err := readPayload(opts)
	if err != nil {
		return err
	}

	store, err := a.openMetricsStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	pipeline, err := a.newPipeline(store)
	if err != nil {
		return err
	}

	m, err := pipeline.Process(ctx, payload, opts.MsgID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

func readPayload(opts ProcessOptions) ([]byte, error) {
	if opts.File == "" || opts.File == "-" {
		in := opts.In
		if in == nil {
			in = os.Stdin
		}
		payload, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return payload, nil
	}
	payload, err := os.ReadFile(opts.File)
	if err != nil {
		return nil, fmt.Errorf("read payload file: %w", err)
	}
	return payload, nil
}
