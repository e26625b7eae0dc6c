package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nuacast/pkg/nua"
)

// castFlags are the flags shared by "cast value" and "cast array".
type castFlags struct {
	prompt     string
	name       string
	schema     string
	schemaFile string
	data       string
	dataFile   string
	now        bool
	noWait     bool
	timeout    time.Duration
}

func (f *castFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.prompt, "prompt", "p", "", "Instruction for the LLM (required)")
	flags.StringVarP(&f.name, "name", "n", "", "Name of the output value (required)")
	flags.StringVarP(&f.schema, "schema", "s", "", "JSON Schema of the output, inline")
	flags.StringVar(&f.schemaFile, "schema-file", "", "JSON Schema of the output, read from a file")
	flags.StringVarP(&f.data, "data", "d", "", "Input data as JSON")
	flags.StringVar(&f.dataFile, "data-file", "", "Input data read from a file (- for stdin)")
	flags.BoolVar(&f.now, "now", false, "Block until the result is ready instead of queueing")
	flags.BoolVar(&f.noWait, "no-wait", false, "Queue the cast and print its handle without waiting")
	flags.DurationVar(&f.timeout, "timeout", 0, "How long to wait for a queued result (default: wait.timeout)")
	_ = cmd.MarkFlagRequired("prompt")
	_ = cmd.MarkFlagRequired("name")
	cmd.MarkFlagsMutuallyExclusive("schema", "schema-file")
	cmd.MarkFlagsMutuallyExclusive("data", "data-file")
	cmd.MarkFlagsMutuallyExclusive("now", "no-wait")
}

// definition builds the cast definition from the prompt, name and schema flags.
func (f *castFlags) definition() (nua.Definition[any], error) {
	var src []byte
	switch {
	case f.schema != "":
		src = []byte(f.schema)
	case f.schemaFile != "":
		b, err := os.ReadFile(f.schemaFile)
		if err != nil {
			return nua.Definition[any]{}, newExitError(ExitUsage, "failed to read schema file", err)
		}
		src = b
	default:
		return nua.Definition[any]{}, newExitError(ExitUsage, "one of --schema or --schema-file is required", nil)
	}

	var doc map[string]any
	if err := json.Unmarshal(src, &doc); err != nil {
		return nua.Definition[any]{}, newExitError(ExitUsage, "schema must be a JSON object", err)
	}
	return nua.Definition[any]{
		Prompt: f.prompt,
		Output: nua.Output[any]{Name: f.name, Schema: nua.SchemaFromDocument(doc)},
	}, nil
}

// input returns the raw --data or --data-file content.
func (f *castFlags) input(cmd *cobra.Command) ([]byte, error) {
	switch {
	case f.data != "":
		return []byte(f.data), nil
	case f.dataFile == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, newExitError(ExitUsage, "failed to read stdin", err)
		}
		return b, nil
	case f.dataFile != "":
		b, err := os.ReadFile(f.dataFile)
		if err != nil {
			return nil, newExitError(ExitUsage, "failed to read data file", err)
		}
		return b, nil
	}
	return nil, nil
}

func (f *castFlags) waitOptions() []nua.WaitOption {
	if f.timeout > 0 {
		return []nua.WaitOption{nua.WithWaitTimeout(f.timeout)}
	}
	return nil
}

func newCastCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cast",
		Short: "Cast data into a structured output",
	}
	cmd.AddCommand(newCastValueCommand(o), newCastArrayCommand(o))
	return cmd
}

func newCastValueCommand(o *options) *cobra.Command {
	f := &castFlags{}
	cmd := &cobra.Command{
		Use:   "value",
		Short: "Cast one payload into a single output value",
		Long: `Cast one payload into a single output value.

Data that is not valid JSON is sent as a string:

  nuacast cast value -p "Extract the food and estimate its calories" \
    -n food -s '{"type":"object","properties":{"name":{"type":"string"}}}' \
    -d "Biriyani"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCastValue(cmd, o, f)
		},
	}
	f.register(cmd)
	return cmd
}

func runCastValue(cmd *cobra.Command, o *options, f *castFlags) error {
	def, err := f.definition()
	if err != nil {
		return err
	}
	raw, err := f.input(cmd)
	if err != nil {
		return err
	}
	data := valueData(raw)

	a, err := o.openApp(cmd)
	if err != nil {
		return err
	}
	defer shutdown(cmd, a)

	caster, err := nua.NewValueCaster(a.Client(), def)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	switch {
	case f.now:
		res, err := caster.Now(ctx, data)
		if err != nil {
			return err
		}
		return o.print(cmd, res)
	case f.noWait:
		queued, err := caster.Queue(ctx, data)
		if err != nil {
			return err
		}
		return o.print(cmd, queued)
	}
	res, err := caster.QueueAndWait(ctx, data, f.waitOptions()...)
	if err != nil {
		return err
	}
	return o.print(cmd, res)
}

func newCastArrayCommand(o *options) *cobra.Command {
	f := &castFlags{}
	var primaryKey string
	cmd := &cobra.Command{
		Use:   "array",
		Short: "Cast keyed rows, one output value per row",
		Long: `Cast keyed rows, one output value per row.

The data must be a JSON array of objects, each carrying a unique value under
the primary key:

  nuacast cast array -p "Classify the sentiment" -n sentiment -k id \
    -s '{"type":"string","enum":["positive","negative"]}' \
    -d '[{"id":1,"text":"great"},{"id":2,"text":"awful"}]'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCastArray(cmd, o, f, primaryKey)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&primaryKey, "primary-key", "k", "", "Field that identifies each row (required)")
	_ = cmd.MarkFlagRequired("primary-key")
	return cmd
}

func runCastArray(cmd *cobra.Command, o *options, f *castFlags, primaryKey string) error {
	def, err := f.definition()
	if err != nil {
		return err
	}
	raw, err := f.input(cmd)
	if err != nil {
		return err
	}
	rows, err := arrayRows(raw)
	if err != nil {
		return err
	}

	a, err := o.openApp(cmd)
	if err != nil {
		return err
	}
	defer shutdown(cmd, a)

	caster, err := nua.NewArrayCaster(a.Client(), def)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	switch {
	case f.now:
		res, err := caster.Now(ctx, rows, primaryKey)
		if err != nil {
			return err
		}
		return o.print(cmd, res)
	case f.noWait:
		queued, err := caster.Queue(ctx, rows, primaryKey)
		if err != nil {
			return err
		}
		return o.print(cmd, queued)
	}
	res, err := caster.QueueAndWait(ctx, rows, primaryKey, f.waitOptions()...)
	if err != nil {
		return err
	}
	return o.print(cmd, res)
}

// valueData decodes raw as JSON, falling back to the trimmed text.
// Empty input casts null.
func valueData(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if v, err := decodeJSON(trimmed); err == nil {
		return v
	}
	return strings.TrimSpace(string(raw))
}

func arrayRows(raw []byte) ([]nua.Row, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, newExitError(ExitUsage, "array casts need --data or --data-file", nil)
	}
	v, err := decodeJSON(trimmed)
	if err != nil {
		return nil, newExitError(ExitUsage, "data must be valid JSON", err)
	}
	return nua.RowsFrom(v)
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}
