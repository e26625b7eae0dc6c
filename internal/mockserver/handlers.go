package mockserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"nuacast/internal/core"
)

// castRequest is the body accepted by every cast endpoint.
type castRequest struct {
	Input struct {
		Prompt     string          `json:"prompt"`
		Data       json.RawMessage `json:"data"`
		PrimaryKey string          `json:"primaryKey"`
	} `json:"input"`
	Output struct {
		Name   string         `json:"name"`
		Schema map[string]any `json:"schema"`
	} `json:"output"`
}

// outcome is the computed result of a cast, before it is wrapped in an
// envelope.
type outcome struct {
	data              any
	cacheHits         int
	rowsWithNoResults []string
	usage             core.Usage
}

// Handler holds the HTTP handlers
type Handler struct {
	respond  Responder
	delay    time.Duration
	model    string
	provider string
	logger   *slog.Logger

	records *store

	mu   sync.Mutex
	seen map[uint64]any
}

// NewHandler creates a handler. A nil respond synthesizes values from the
// output schema.
func NewHandler(respond Responder, delay time.Duration, model, provider string, logger *slog.Logger) *Handler {
	if respond == nil {
		respond = Synthesize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		respond:  respond,
		delay:    delay,
		model:    model,
		provider: provider,
		logger:   logger,
		records:  newStore(),
		seen:     make(map[uint64]any),
	}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// CastValue handles POST /cast/value
func (h *Handler) CastValue(c echo.Context) error {
	return h.queue(c, core.KindValue)
}

// CastValueNow handles POST /cast/value/now
func (h *Handler) CastValueNow(c echo.Context) error {
	return h.now(c, core.KindValue)
}

// CastArray handles POST /cast/array
func (h *Handler) CastArray(c echo.Context) error {
	return h.queue(c, core.KindArray)
}

// CastArrayNow handles POST /cast/array/now
func (h *Handler) CastArrayNow(c echo.Context) error {
	return h.now(c, core.KindArray)
}

// GetRequest handles GET /requests/:id
func (h *Handler) GetRequest(c echo.Context) error {
	record, ok := h.records.snapshot(c.Param("id"))
	if !ok {
		return errorJSON(c, http.StatusNotFound, "Request not found")
	}
	return c.JSON(http.StatusOK, record)
}

// Subscribe handles GET /sse/:id. It announces the request as processing and
// writes the terminal payload once the cast finishes.
func (h *Handler) Subscribe(c echo.Context) error {
	id := c.Param("id")
	j, ok := h.records.get(id)
	if !ok {
		return errorJSON(c, http.StatusNotFound, "Request not found")
	}

	res := c.Response()
	res.Header().Set("Content-Type", "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprintf(res, ": connected\n\n")
	_, _ = fmt.Fprintf(res, "data: %s\n\n", `{"status":"processing"}`)
	res.Flush()

	select {
	case <-j.done:
	case <-c.Request().Context().Done():
		h.logger.Debug("sse subscriber left", "request_id", id)
		return nil
	}

	if _, err := fmt.Fprintf(res, "data: %s\n\n", h.records.message(j)); err != nil {
		// Headers are already sent; nothing left to report to the client.
		h.logger.Debug("sse write failed", "request_id", id, "error", err)
		return nil
	}
	res.Flush()
	h.records.markDelivered(id)
	return nil
}

func (h *Handler) queue(c echo.Context, kind core.Kind) error {
	req, data, err := h.bind(c, kind)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	record := h.newRecord(kind, req)
	record.SSEStatus = core.DeliveryPending
	h.records.add(record)

	time.AfterFunc(h.delay, func() { h.process(record.ID, kind, req, data) })

	return c.JSON(http.StatusAccepted, map[string]string{
		"id":     record.ID,
		"sseUrl": channelURL(c, record.ID),
	})
}

// process runs a queued cast and publishes its terminal payload.
func (h *Handler) process(id string, kind core.Kind, req *castRequest, data any) {
	h.records.start(id)

	out, err := h.compute(kind, req, data)
	if err != nil {
		h.logger.Debug("queued cast failed", "request_id", id, "error", err)
		msg, _ := json.Marshal(map[string]any{"isError": true, "error": err.Error()})
		h.records.finish(id, req.Output.Name, nil, err, msg)
		return
	}

	payload := envelope(id, kind, out)
	payload["isSuccess"] = true
	msg, err := json.Marshal(payload)
	if err != nil {
		h.records.finish(id, req.Output.Name, nil, err, []byte(`{"isError":true}`))
		return
	}
	h.records.finish(id, req.Output.Name, out.data, nil, msg)
}

func (h *Handler) now(c echo.Context, kind core.Kind) error {
	req, data, err := h.bind(c, kind)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	record := h.newRecord(kind, req)
	h.records.add(record)
	h.records.start(record.ID)

	out, err := h.compute(kind, req, data)
	if err != nil {
		h.records.finish(record.ID, req.Output.Name, nil, err, nil)
		return errorJSON(c, http.StatusBadGateway, err.Error())
	}
	h.records.finish(record.ID, req.Output.Name, out.data, nil, nil)

	return c.JSON(http.StatusOK, envelope(record.ID, kind, out))
}

// bind decodes and checks a cast body. data is the decoded input data with
// numbers kept as json.Number so keys echo back exactly.
func (h *Handler) bind(c echo.Context, kind core.Kind) (*castRequest, any, error) {
	var req castRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return nil, nil, errors.New("invalid request body: " + err.Error())
	}
	if req.Output.Name == "" {
		return nil, nil, errors.New("output.name is required")
	}
	if req.Output.Schema == nil {
		return nil, nil, errors.New("output.schema is required")
	}

	var data any
	if len(req.Input.Data) > 0 {
		dec := json.NewDecoder(bytes.NewReader(req.Input.Data))
		dec.UseNumber()
		if err := dec.Decode(&data); err != nil {
			return nil, nil, errors.New("input.data is not valid JSON")
		}
	}

	if kind == core.KindArray {
		if req.Input.PrimaryKey == "" {
			return nil, nil, errors.New("input.primaryKey is required")
		}
		rows, ok := data.([]any)
		if !ok {
			return nil, nil, errors.New("input.data must be an array of objects")
		}
		for i, row := range rows {
			obj, ok := row.(map[string]any)
			if !ok {
				return nil, nil, fmt.Errorf("input.data[%d] must be an object", i)
			}
			if _, ok := obj[req.Input.PrimaryKey]; !ok {
				return nil, nil, fmt.Errorf("input.data[%d] is missing primary key %q", i, req.Input.PrimaryKey)
			}
		}
	}
	return &req, data, nil
}

func (h *Handler) compute(kind core.Kind, req *castRequest, data any) (*outcome, error) {
	if kind == core.KindValue {
		value, hit, err := h.call(kind, req, data)
		if err != nil {
			return nil, err
		}
		out := &outcome{data: value}
		if hit {
			out.cacheHits = 1
		} else {
			out.usage = estimateUsage(req.Input.Prompt, data, value)
		}
		return out, nil
	}

	rows, _ := data.([]any)
	out := &outcome{data: []any{}, rowsWithNoResults: []string{}}
	results := make([]any, 0, len(rows))
	for _, row := range rows {
		key := row.(map[string]any)[req.Input.PrimaryKey]
		value, hit, err := h.call(kind, req, row)
		if errors.Is(err, ErrNoResult) {
			out.rowsWithNoResults = append(out.rowsWithNoResults, fmt.Sprint(key))
			continue
		}
		if err != nil {
			return nil, err
		}
		if hit {
			out.cacheHits++
		} else {
			u := estimateUsage(req.Input.Prompt, row, value)
			out.usage.PromptTokens += u.PromptTokens
			out.usage.CompletionTokens += u.CompletionTokens
			out.usage.TotalTokens += u.TotalTokens
		}
		results = append(results, map[string]any{
			req.Input.PrimaryKey: key,
			req.Output.Name:      value,
		})
	}
	out.data = results
	return out, nil
}

// call runs the responder for one payload, serving repeats of the same
// prompt, output and data from memory.
func (h *Handler) call(kind core.Kind, req *castRequest, data any) (any, bool, error) {
	key := cacheKey(req, data)

	h.mu.Lock()
	cached, ok := h.seen[key]
	h.mu.Unlock()
	if ok {
		return cached, true, nil
	}

	value, err := h.respond(Call{
		Kind:       string(kind),
		Prompt:     req.Input.Prompt,
		OutputName: req.Output.Name,
		Schema:     req.Output.Schema,
		Data:       data,
	})
	if err != nil {
		return nil, false, err
	}

	h.mu.Lock()
	h.seen[key] = value
	h.mu.Unlock()
	return value, false, nil
}

func (h *Handler) newRecord(kind core.Kind, req *castRequest) core.RequestRecord {
	now := time.Now().UTC()
	schemaText, _ := json.Marshal(req.Output.Schema)
	dataText := string(req.Input.Data)
	prompt := req.Input.Prompt

	record := core.RequestRecord{
		ID:            uuid.NewString(),
		RequestType:   string(kind),
		LLMStatus:     core.LLMStatusPending,
		SSEStatus:     core.DeliveryNotApplicable,
		WebhookStatus: core.DeliveryNotApplicable,
		Input: core.RequestInput{
			Prompt: &prompt,
			Data:   &dataText,
		},
		Output: core.RequestOutput{
			Name:            req.Output.Name,
			Schema:          string(schemaText),
			EffectiveSchema: string(schemaText),
		},
		FullPrompt: strings.TrimSpace(prompt + "\n" + dataText),
		Model:      h.model,
		Provider:   h.provider,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Input.PrimaryKey != "" {
		pk := req.Input.PrimaryKey
		record.Input.PrimaryKey = &pk
	}
	return record
}

func envelope(id string, kind core.Kind, out *outcome) map[string]any {
	payload := map[string]any{
		"llmRequestId": id,
		"kind":         string(kind),
		"data":         out.data,
		"usage":        out.usage,
	}
	if kind == core.KindValue {
		payload["isCacheHit"] = out.cacheHits > 0
	} else {
		payload["cacheHits"] = out.cacheHits
		payload["rowsWithNoResults"] = out.rowsWithNoResults
	}
	return payload
}

// estimateUsage approximates token counts at four bytes per token.
func estimateUsage(prompt string, data, value any) core.Usage {
	in, _ := json.Marshal(data)
	out, _ := json.Marshal(value)
	u := core.Usage{
		PromptTokens:     tokens(len(prompt) + len(in)),
		CompletionTokens: tokens(len(out)),
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func tokens(n int) int {
	return (n + 3) / 4
}

func cacheKey(req *castRequest, data any) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(req.Input.Prompt)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(req.Output.Name)
	_, _ = h.Write([]byte{0})
	schemaText, _ := json.Marshal(req.Output.Schema)
	_, _ = h.Write(schemaText)
	_, _ = h.Write([]byte{0})
	dataText, _ := json.Marshal(data)
	_, _ = h.Write(dataText)
	return h.Sum64()
}

// channelURL builds the absolute push channel URL from the incoming request.
func channelURL(c echo.Context, id string) string {
	return c.Scheme() + "://" + c.Request().Host + "/sse/" + id
}

// errorJSON writes the service's error body: {"error": "..."}.
func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}
