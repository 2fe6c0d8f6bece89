// Package search finds models on the Hugging Face Hub and flags the ones the
// llama backends can load.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"modelproxy/pkg/types"
)

const (
	// DefaultAPIURL is the public Hugging Face model listing endpoint.
	DefaultAPIURL = "https://huggingface.co/api/models"

	defaultCacheTTL  = 5 * time.Minute
	defaultCacheSize = 256
	defaultTimeout   = 10 * time.Second
	defaultLimit     = 20
	maxLimit         = 50
	maxQueryLen      = 100
)

// validationError marks a bad search request (HTTP 400).
type validationError struct{ msg string }

func (e validationError) Error() string   { return e.msg }
func (e validationError) StatusCode() int { return http.StatusBadRequest }

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	_, ok := err.(validationError)
	return ok
}

// Config configures a Provider.
type Config struct {
	APIURL    string
	CacheTTL  time.Duration
	CacheSize int
	Timeout   time.Duration
	Client    *http.Client
	Logger    zerolog.Logger
}

// Query is one search request.
type Query struct {
	Text             string
	Limit            int
	FilterCompatible bool
}

// Response holds results. Fallback is set when the hub was unreachable and
// a fixed list was returned instead.
type Response struct {
	Models   []types.ModelInfo
	Fallback bool
}

// Provider queries the hub with a TTL cache and collapses identical
// concurrent queries into one upstream call.
type Provider struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
	cache  *expirable.LRU[string, []types.ModelInfo]
	group  singleflight.Group
}

// New constructs a Provider.
func New(cfg Config) *Provider {
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Provider{
		cfg:    cfg,
		client: client,
		log:    cfg.Logger.With().Str("component", "search").Logger(),
		cache:  expirable.NewLRU[string, []types.ModelInfo](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

// Normalize validates q and applies defaults.
func Normalize(q Query) (Query, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, validationError{msg: "query is required"}
	}
	if utf8.RuneCountInString(q.Text) > maxQueryLen {
		return q, validationError{msg: fmt.Sprintf("query must be at most %d characters", maxQueryLen)}
	}
	if q.Limit == 0 {
		q.Limit = defaultLimit
	}
	if q.Limit < 1 || q.Limit > maxLimit {
		return q, validationError{msg: fmt.Sprintf("limit must be between 1 and %d", maxLimit)}
	}
	return q, nil
}

// Search returns models matching q. Upstream failures are not errors: the
// fallback list is returned with Fallback set.
func (p *Provider) Search(ctx context.Context, q Query) (Response, error) {
	q, err := Normalize(q)
	if err != nil {
		return Response{}, err
	}
	key := strings.ToLower(q.Text) + "|" + strconv.Itoa(q.Limit)
	models, ok := p.cache.Get(key)
	if !ok {
		v, err, _ := p.group.Do(key, func() (any, error) {
			res, err := p.fetch(ctx, q)
			if err != nil {
				return nil, err
			}
			p.cache.Add(key, res)
			return res, nil
		})
		if err != nil {
			p.log.Warn().Err(err).Str("query", q.Text).Msg("hub search failed, using fallback list")
			return Response{Models: filter(fallbackModels(q.Text, q.Limit), q.FilterCompatible), Fallback: true}, nil
		}
		models = v.([]types.ModelInfo)
	}
	return Response{Models: filter(models, q.FilterCompatible)}, nil
}

// hubModel is the subset of the hub's listing payload we read.
type hubModel struct {
	ID          string   `json:"id"`
	ModelID     string   `json:"modelId"`
	Author      string   `json:"author"`
	Downloads   int      `json:"downloads"`
	Likes       int      `json:"likes"`
	Tags        []string `json:"tags"`
	PipelineTag string   `json:"pipeline_tag"`
	Library     string   `json:"library_name"`
}

func (p *Provider) fetch(ctx context.Context, q Query) ([]types.ModelInfo, error) {
	// Detached so a caller going away does not fail the shared call.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
	defer cancel()
	params := url.Values{}
	params.Set("search", q.Text)
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("filter", "text-generation")
	params.Set("sort", "downloads")
	params.Set("direction", "-1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.APIURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("hub returned %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var raw []hubModel
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode hub response: %w", err)
	}
	out := make([]types.ModelInfo, 0, len(raw))
	for _, m := range raw {
		out = append(out, toModelInfo(m))
	}
	return out, nil
}

func toModelInfo(m hubModel) types.ModelInfo {
	id := m.ID
	if id == "" {
		id = m.ModelID
	}
	name := id
	if i := strings.LastIndex(id, "/"); i >= 0 {
		name = id[i+1:]
	}
	author := m.Author
	if author == "" {
		if i := strings.Index(id, "/"); i > 0 {
			author = id[:i]
		}
	}
	info := types.ModelInfo{
		ID:          id,
		Name:        name,
		Author:      author,
		Downloads:   m.Downloads,
		Likes:       m.Likes,
		Tags:        append([]string{}, m.Tags...),
		PipelineTag: m.PipelineTag,
		Library:     m.Library,
	}
	info.Compatible, info.Reason = Compatibility(info)
	return info
}

func filter(models []types.ModelInfo, compatibleOnly bool) []types.ModelInfo {
	out := make([]types.ModelInfo, 0, len(models))
	for _, m := range models {
		if compatibleOnly && !m.Compatible {
			continue
		}
		out = append(out, m)
	}
	return out
}
