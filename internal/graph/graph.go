package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/freekieb7/lctrelay/internal/config"

	redis "github.com/redis/go-redis/v9"
)

// ErrNoMatch means a MATCH ... CREATE found nothing to connect.
var ErrNoMatch = errors.New("no matching nodes")

// Doer is the slice of the go-redis client the graph needs.
type Doer interface {
	Do(ctx context.Context, args ...any) *redis.Cmd
}

// Connect opens a Redis client for cfg.RedisURL and checks it answers.
func Connect(ctx context.Context, cfg config.GraphConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	// GRAPH.QUERY replies are parsed in their RESP2 shape
	opt.Protocol = 2

	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

// Graph runs Cypher queries against one RedisGraph key.
type Graph struct {
	client Doer
	name   string
}

func New(client Doer, name string) *Graph {
	return &Graph{client: client, name: name}
}

func (g *Graph) Name() string {
	return g.name
}

// Result is a decoded GRAPH.QUERY reply.
type Result struct {
	Columns []string
	Rows    [][]any
	Stats   []string
}

// Stat returns the numeric value of a statistic such as "Nodes created".
func (r Result) Stat(name string) (float64, bool) {
	for _, line := range r.Stats {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != name {
			continue
		}
		fields := strings.Fields(value)
		if len(fields) == 0 {
			return 0, false
		}
		n, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Query runs cypher with params bound through the CYPHER prefix, so values
// are never spliced into the query text.
func (g *Graph) Query(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	prefix, err := paramPrefix(params)
	if err != nil {
		return Result{}, err
	}

	reply, err := g.client.Do(ctx, "GRAPH.QUERY", g.name, prefix+cypher).Result()
	if err != nil {
		return Result{}, fmt.Errorf("graph query: %w", err)
	}
	return parseResult(reply)
}

// Delete drops the whole graph. A missing graph is not an error.
func (g *Graph) Delete(ctx context.Context) error {
	err := g.client.Do(ctx, "GRAPH.DELETE", g.name).Err()
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "empty key") {
		return fmt.Errorf("graph delete: %w", err)
	}
	return nil
}

func paramPrefix(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("CYPHER")
	for _, key := range slices.Sorted(maps.Keys(params)) {
		value, err := quoteParam(params[key])
		if err != nil {
			return "", fmt.Errorf("param %s: %w", key, err)
		}
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(value)
	}
	b.WriteString(" ")
	return b.String(), nil
}

func quoteParam(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "null", nil
	case string:
		return quoteString(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case []string:
		quoted := make([]string, len(v))
		for i, s := range v {
			quoted[i] = quoteString(s)
		}
		return "[" + strings.Join(quoted, ",") + "]", nil
	default:
		return "", fmt.Errorf("unsupported parameter type %T", v)
	}
}

func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// parseResult decodes the RESP2 reply: [stats] for pure writes and
// [header, rows, stats] when the query returns values.
func parseResult(reply any) (Result, error) {
	parts, ok := reply.([]any)
	if !ok {
		return Result{}, fmt.Errorf("graph query: unexpected reply %T", reply)
	}

	var res Result
	switch len(parts) {
	case 1:
		stats, err := stringList(parts[0])
		if err != nil {
			return Result{}, err
		}
		res.Stats = stats
	case 3:
		columns, err := stringList(parts[0])
		if err != nil {
			return Result{}, err
		}
		rows, ok := parts[1].([]any)
		if !ok {
			return Result{}, fmt.Errorf("graph query: unexpected rows %T", parts[1])
		}
		for _, row := range rows {
			values, ok := row.([]any)
			if !ok {
				return Result{}, fmt.Errorf("graph query: unexpected row %T", row)
			}
			res.Rows = append(res.Rows, values)
		}
		stats, err := stringList(parts[2])
		if err != nil {
			return Result{}, err
		}
		res.Columns, res.Stats = columns, stats
	default:
		return Result{}, fmt.Errorf("graph query: reply has %d parts", len(parts))
	}
	return res, nil
}

func stringList(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("graph query: expected array, got %T", v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("graph query: expected string, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

func asString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
