package gateway

import (
	"context"
	"net/http"
)

// Do sends in as a JSON body and decodes the response into out. Either may be nil.
func (g *Gateway) Do(ctx context.Context, method, path string, in, out any) error {
	req, err := NewJSONRequest(method, path, in)
	if err != nil {
		return err
	}
	res, err := g.Execute(ctx, req)
	if err != nil {
		return err
	}
	return res.Decode(out)
}

func (g *Gateway) Get(ctx context.Context, path string, out any) error {
	return g.Do(ctx, http.MethodGet, path, nil, out)
}

func (g *Gateway) Post(ctx context.Context, path string, in, out any) error {
	return g.Do(ctx, http.MethodPost, path, in, out)
}

func (g *Gateway) Put(ctx context.Context, path string, in, out any) error {
	return g.Do(ctx, http.MethodPut, path, in, out)
}

func (g *Gateway) Patch(ctx context.Context, path string, in, out any) error {
	return g.Do(ctx, http.MethodPatch, path, in, out)
}

func (g *Gateway) Delete(ctx context.Context, path string, out any) error {
	return g.Do(ctx, http.MethodDelete, path, nil, out)
}
