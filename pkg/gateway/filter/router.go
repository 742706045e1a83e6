// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway/data"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
)

const FilterTypeRouter = "RouterFilter"

// Route binds a path and method to an action.
type Route struct {
	Method string
	Path   string
	Action data.Action
}

// DefaultRoutes returns the upload endpoints with the relay endpoint mounted
// at relayURL. Only the path of an absolute relayURL is used.
func DefaultRoutes(relayURL string) []Route {
	relay := types.DefaultRelayURL
	if relayURL != "" {
		if u, err := url.Parse(relayURL); err == nil && u.Path != "" {
			relay = u.Path
		}
	}
	return []Route{
		{Method: http.MethodGet, Path: "/upload/config", Action: data.ActionConfig},
		{Method: http.MethodPost, Path: "/upload/params", Action: data.ActionParams},
		{Method: http.MethodPost, Path: relay, Action: data.ActionRelay},
		{Method: http.MethodPost, Path: "/upload/notify", Action: data.ActionNotify},
	}
}

type RouterFilter struct {
	routes map[string]map[string]data.Action
}

func NewRouterFilter(routes []Route) *RouterFilter {
	f := &RouterFilter{routes: make(map[string]map[string]data.Action)}
	for _, r := range routes {
		p := cleanPath(r.Path)
		if f.routes[p] == nil {
			f.routes[p] = make(map[string]data.Action)
		}
		f.routes[p][r.Method] = r.Action
	}
	return f
}

func (f *RouterFilter) Type() string {
	return FilterTypeRouter
}

func (f *RouterFilter) Run(d *data.Data) (Response, error) {
	if d.Ctx.Err() != nil {
		return nil, d.Ctx.Err()
	}
	action, err := f.Match(d.Req.Method, d.Req.URL.Path)
	if err != nil {
		return End{}, err
	}
	d.Action = action
	return Next{}, nil
}

// Match resolves method and path. Preflight requests match any known path.
func (f *RouterFilter) Match(method, path string) (data.Action, error) {
	methods, ok := f.routes[cleanPath(path)]
	if !ok {
		return data.ActionUnknown, ErrRouteNotFound
	}
	if method == http.MethodOptions {
		for _, a := range methods {
			return a, nil
		}
	}
	if method == http.MethodHead {
		method = http.MethodGet
	}
	a, ok := methods[method]
	if !ok {
		return data.ActionUnknown, ErrMethodNotAllowed
	}
	return a, nil
}

func cleanPath(p string) string {
	p = "/" + strings.Trim(p, "/")
	return strings.ToLower(p)
}
