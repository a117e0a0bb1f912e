package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/oakbuilders/bid-finder/internal/logger"
)

const maxPageBytes = 10 << 20

// HTMLListAdapter scrapes listing tables or cards. Items, fields and the
// next-page link are CSS selectors; "selector@attr" reads an attribute.
type HTMLListAdapter struct {
	source SourceConfig
	log    *zap.Logger
}

func NewHTMLListAdapter(source SourceConfig, log *zap.Logger) *HTMLListAdapter {
	return &HTMLListAdapter{
		source: source,
		log:    logger.WithFields(log, zap.String(logger.FieldSource, source.Name)),
	}
}

// buildCollector creates a configured Colly collector.
func (a *HTMLListAdapter) buildCollector(ctx context.Context) (*colly.Collector, error) {
	fetch := a.source.Fetch
	c := colly.NewCollector(
		colly.UserAgent(fetch.userAgent()),
		colly.MaxBodySize(maxPageBytes),
		colly.MaxDepth(a.source.maxPages()),
		colly.DetectCharset(),
	)

	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       fetch.delay(),
	}); err != nil {
		return nil, fmt.Errorf("%s: rate limit: %w", a.source.Name, err)
	}
	c.SetRequestTimeout(fetch.timeout())

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		for k, v := range fetch.Headers {
			r.Headers.Set(k, v)
		}
	})
	return c, nil
}

func (a *HTMLListAdapter) Records(ctx context.Context, emit func(RawRecord) error) error {
	c, err := a.buildCollector(ctx)
	if err != nil {
		return err
	}

	var (
		emitErr  error
		fetchErr error
		pages    int
	)
	maxRetries := a.source.Fetch.retries()

	c.OnResponse(func(r *colly.Response) {
		pages++
		a.log.Debug("listing page", zap.Int("page", pages), zap.String("url", r.Request.URL.String()))
	})

	c.OnHTML(a.source.Items, func(e *colly.HTMLElement) {
		if emitErr != nil {
			return
		}
		if err := ctx.Err(); err != nil {
			emitErr = err
			return
		}
		emitErr = emit(a.record(e))
	})

	if a.source.NextPage != "" {
		c.OnHTML(a.source.NextPage, func(e *colly.HTMLElement) {
			if emitErr != nil {
				return
			}
			link := e.Request.AbsoluteURL(e.Attr("href"))
			if link == "" {
				return
			}
			if err := e.Request.Visit(link); err != nil && !expectedVisitError(err) {
				a.log.Warn("next page", zap.String("url", link), zap.Error(err))
			}
		})
	}

	// Retry on errors
	c.OnError(func(r *colly.Response, err error) {
		retries, _ := r.Request.Ctx.GetAny("retries").(int)
		if retries < maxRetries && ctx.Err() == nil {
			r.Request.Ctx.Put("retries", retries+1)
			a.log.Warn("retrying page",
				zap.Int("attempt", retries+1),
				zap.Int("max_retries", maxRetries),
				zap.String("url", r.Request.URL.String()),
				zap.Error(err),
			)
			time.Sleep(time.Duration(retries+1) * 500 * time.Millisecond)
			if rerr := r.Request.Retry(); rerr == nil {
				return
			}
		}
		if fetchErr == nil {
			fetchErr = fmt.Errorf("%s: fetch %s: %w", a.source.Name, r.Request.URL, err)
		}
	})

	if err := c.Visit(a.source.URL); err != nil && fetchErr == nil {
		fetchErr = fmt.Errorf("%s: fetch %s: %w", a.source.Name, a.source.URL, err)
	}
	c.Wait()

	switch {
	case emitErr != nil:
		return emitErr
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fetchErr
	}
}

// expectedVisitError reports errors that just mean pagination is done.
func expectedVisitError(err error) bool {
	var visited *colly.AlreadyVisitedError
	return errors.Is(err, colly.ErrMaxDepth) || errors.As(err, &visited)
}

func (a *HTMLListAdapter) record(e *colly.HTMLElement) RawRecord {
	rec := RawRecord{Source: a.source.Name, Fields: make(map[string]string, len(a.source.Fields))}
	if a.source.NativeID != "" {
		rec.NativeID = extract(e, a.source.NativeID)
	}
	for field, sel := range a.source.Fields {
		if v := extract(e, sel); v != "" {
			rec.Fields[field] = v
		}
	}
	if u := rec.Fields[FieldURL]; u != "" {
		rec.Fields[FieldURL] = e.Request.AbsoluteURL(u)
	}
	return rec
}

// extract evaluates a field selector inside e. "sel@attr" reads an
// attribute, "@attr" an attribute of e itself; anything else is text.
func extract(e *colly.HTMLElement, sel string) string {
	sel = strings.TrimSpace(sel)
	if i := strings.LastIndex(sel, "@"); i >= 0 && !strings.ContainsAny(sel[i:], " ]>") {
		child, attr := strings.TrimSpace(sel[:i]), sel[i+1:]
		if child == "" {
			return strings.TrimSpace(e.Attr(attr))
		}
		return strings.TrimSpace(e.ChildAttr(child, attr))
	}
	return normalizeSpace(e.ChildText(sel))
}
