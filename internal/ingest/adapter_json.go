package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/oakbuilders/bid-finder/internal/logger"
)

const maxFeedBytes = 20 << 20

// JSONFeedAdapter reads paginated JSON listings. Item, field and next-page
// locations are gjson paths from the source config.
type JSONFeedAdapter struct {
	source SourceConfig
	client *retryablehttp.Client
	log    *zap.Logger
}

func NewJSONFeedAdapter(source SourceConfig, log *zap.Logger) *JSONFeedAdapter {
	log = logger.WithFields(log, zap.String(logger.FieldSource, source.Name))

	client := retryablehttp.NewClient()
	client.Logger = retryLogger{log.Sugar()}
	client.RetryMax = source.Fetch.retries()
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = source.Fetch.timeout()

	return &JSONFeedAdapter{source: source, client: client, log: log}
}

func (a *JSONFeedAdapter) Records(ctx context.Context, emit func(RawRecord) error) error {
	next := a.source.URL
	for page := 0; page < a.source.maxPages() && next != ""; page++ {
		if page > 0 {
			if err := sleepCtx(ctx, a.source.Fetch.delay()); err != nil {
				return err
			}
		}

		body, err := a.fetch(ctx, next)
		if err != nil {
			return err
		}

		items := gjson.ParseBytes(body)
		if a.source.Items != "" {
			items = gjson.GetBytes(body, a.source.Items)
		}
		if !items.IsArray() {
			return fmt.Errorf("%s: items path %q is not an array", a.source.Name, a.source.Items)
		}

		list := items.Array()
		a.log.Debug("feed page", zap.Int("page", page+1), zap.Int("items", len(list)))
		for _, item := range list {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(a.record(item)); err != nil {
				return err
			}
		}

		next = ""
		if a.source.NextPage != "" {
			next = resolveURL(a.source.URL, gjson.GetBytes(body, a.source.NextPage).String())
		}
	}
	return nil
}

func (a *JSONFeedAdapter) record(item gjson.Result) RawRecord {
	rec := RawRecord{Source: a.source.Name, Fields: make(map[string]string, len(a.source.Fields))}
	if a.source.NativeID != "" {
		rec.NativeID = item.Get(a.source.NativeID).String()
	}
	for field, path := range a.source.Fields {
		if v := item.Get(path); v.Exists() && v.Type != gjson.Null {
			rec.Fields[field] = v.String()
		}
	}
	if u := rec.Fields[FieldURL]; u != "" {
		rec.Fields[FieldURL] = resolveURL(a.source.URL, u)
	}
	return rec
}

func (a *JSONFeedAdapter) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", a.source.Name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.source.Fetch.userAgent())
	for k, v := range a.source.Fetch.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch: %w", a.source.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: fetch: unexpected status %d", a.source.Name, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", a.source.Name, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s: response is not valid JSON", a.source.Name)
	}
	return body, nil
}

// retryLogger routes retryablehttp's leveled logging into zap.
type retryLogger struct {
	s *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

// resolveURL makes ref absolute against base. Unparseable refs are returned as is.
func resolveURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
