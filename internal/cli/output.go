package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"
)

const jqTimeout = time.Second

// print writes v as JSON, filtered through --jq when set.
func (o *options) print(cmd *cobra.Command, v any) error {
	if o.jq == "" {
		return o.writeJSON(cmd, v)
	}

	results, err := runJQ(cmd.Context(), o.jq, v)
	if err != nil {
		return newExitError(ExitUsage, "jq", err)
	}
	for _, r := range results {
		if s, ok := r.(string); ok {
			fmt.Fprintln(cmd.OutOrStdout(), s)
			continue
		}
		if err := o.writeJSON(cmd, r); err != nil {
			return err
		}
	}
	return nil
}

func (o *options) writeJSON(cmd *cobra.Command, v any) error {
	var data []byte
	var err error
	if o.compact {
		data, err = json.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// runJQ evaluates expression against v. v is round-tripped through JSON so
// gojq sees plain maps, slices and float64 numbers.
func runJQ(ctx context.Context, expression string, v any) ([]any, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}

	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var input any
	if err := json.Unmarshal(encoded, &input); err != nil {
		return nil, err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, jqTimeout)
	defer cancel()

	var results []any
	iter := code.RunWithContext(ctx, input)
	for {
		r, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := r.(error); isErr {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}
