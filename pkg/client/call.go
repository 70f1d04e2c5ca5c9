package client

import (
	"context"
	"encoding/json"
	"io"

	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
	"github.com/nulpointcorp/anthropic-go/pkg/messages"
)

// Call sends a non-streaming request and returns the complete response.
//
// req must come from a successful Builder.Build and must not have streaming
// enabled; otherwise Call fails with KindInvalidRequest before any I/O.
// Retryable upstream failures are retried by the transport.
func (c *Client) Call(ctx context.Context, req messages.Request) (messages.Response, error) {
	rec := newRecord(ModeCall, req)
	resp, err := c.call(ctx, req, rec)
	if err == nil {
		rec.usage(resp)
	}
	c.finish(ctx, rec, err)
	return resp, err
}

func (c *Client) call(ctx context.Context, req messages.Request, rec *CallRecord) (messages.Response, error) {
	if err := checkRequest(req); err != nil {
		return messages.Response{}, err
	}
	if req.Stream() {
		return messages.Response{}, apierr.New(apierr.KindInvalidRequest, "request has stream enabled; use Stream or StreamMessage")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return messages.Response{}, apierr.Wrap(apierr.KindInvalidRequest, err, "encode request")
	}

	cacheable := c.cache != nil && c.cache.Cacheable(req)
	if cacheable {
		if resp, ok := c.cache.Get(ctx, body); ok {
			c.obs.CacheGetHit()
			rec.Cached = true
			return resp, nil
		}
		c.obs.CacheGetMiss()
	} else if c.cache != nil {
		c.obs.CacheGetBypass()
	}

	if err := c.admit(ctx); err != nil {
		return messages.Response{}, err
	}

	if d := c.cfg.timeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	httpResp, err := c.sender.Send(ctx, body, false)
	if err != nil {
		return messages.Response{}, err
	}
	defer httpResp.Body.Close()
	rec.RequestID = httpResp.Header.Get("request-id")

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return messages.Response{}, apierr.Wrap(apierr.KindTransport, err, "read response body")
	}

	var resp messages.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		e := apierr.Wrap(apierr.KindTransport, err, "decode response body")
		e.Raw = raw
		return messages.Response{}, e
	}

	if cacheable {
		c.cache.Set(ctx, body, resp)
	}
	return resp, nil
}
