package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/torosent/crankmeter/internal/config"
	"github.com/torosent/crankmeter/internal/httpclient"
	"github.com/torosent/crankmeter/internal/instrument"
)

// endpointTemplate is one weighted request shape. Its wrapper labels every
// sample with the endpoint name.
type endpointTemplate struct {
	name    string
	weight  int
	builder *httpclient.RequestBuilder
	wrapper *instrument.Wrapper
	op      instrument.Operation
}

type endpointSelector struct {
	templates   []*endpointTemplate
	totalWeight int
	rnd         *rand.Rand
	mu          sync.Mutex
}

// newEndpointSelector builds one template per configured endpoint, or a
// single unlabeled template for the global target when none are configured.
func newEndpointSelector(cfg *config.Config, client httpclient.Doer, wrapper *instrument.Wrapper, propagate bool) (*endpointSelector, error) {
	if len(cfg.Endpoints) == 0 {
		builder, err := httpclient.NewRequestBuilder(cfg)
		if err != nil {
			return nil, err
		}
		tmpl := &endpointTemplate{
			weight:  1,
			builder: builder,
			wrapper: wrapper,
			op:      httpclient.Operation(client, builder, propagate),
		}
		return &endpointSelector{
			templates:   []*endpointTemplate{tmpl},
			totalWeight: 1,
			rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
		}, nil
	}

	templates := make([]*endpointTemplate, 0, len(cfg.Endpoints))
	total := 0
	for idx, ep := range cfg.Endpoints {
		tmpl, err := buildEndpointTemplate(cfg, ep)
		if err != nil {
			name := ep.Name
			if strings.TrimSpace(name) == "" {
				name = fmt.Sprintf("index %d", idx)
			}
			return nil, fmt.Errorf("endpoint %s: %w", name, err)
		}
		tmpl.wrapper = wrapper.ForEndpoint(tmpl.name)
		tmpl.op = httpclient.Operation(client, tmpl.builder, propagate)
		templates = append(templates, tmpl)
		total += tmpl.weight
	}

	return &endpointSelector{
		templates:   templates,
		totalWeight: total,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func buildEndpointTemplate(cfg *config.Config, ep config.Endpoint) (*endpointTemplate, error) {
	weight := ep.Weight
	if weight <= 0 {
		weight = 1
	}

	method := strings.TrimSpace(ep.Method)
	if method == "" {
		method = cfg.Method
	}
	if method == "" {
		method = http.MethodGet
	}

	target, err := resolveEndpointURL(strings.TrimSpace(cfg.TargetURL), ep)
	if err != nil {
		return nil, err
	}

	body := cfg.Body
	bodyFile := cfg.BodyFile
	if strings.TrimSpace(ep.Body) != "" {
		body = ep.Body
		bodyFile = ""
	}
	if strings.TrimSpace(ep.BodyFile) != "" {
		bodyFile = ep.BodyFile
		body = ""
	}

	builder, err := httpclient.NewRequestBuilder(&config.Config{
		TargetURL: target,
		Method:    method,
		Headers:   mergeHeaders(cfg.Headers, ep.Headers),
		Body:      body,
		BodyFile:  bodyFile,
	})
	if err != nil {
		return nil, err
	}

	name := ep.Name
	if strings.TrimSpace(name) == "" {
		name = target
	}

	return &endpointTemplate{
		name:    name,
		weight:  weight,
		builder: builder,
	}, nil
}

func resolveEndpointURL(base string, ep config.Endpoint) (string, error) {
	if trimmed := strings.TrimSpace(ep.URL); trimmed != "" {
		return trimmed, nil
	}
	if base == "" {
		return "", fmt.Errorf("endpoint %s: url is required when global target is empty", ep.Name)
	}
	if strings.TrimSpace(ep.Path) == "" {
		return base, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base target %q: %w", base, err)
	}
	rel, err := url.Parse(strings.TrimSpace(ep.Path))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint path %q: %w", ep.Path, err)
	}
	return baseURL.ResolveReference(rel).String(), nil
}

func mergeHeaders(base map[string]string, overrides map[string]string) map[string]string {
	if len(base) == 0 && len(overrides) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		key := http.CanonicalHeaderKey(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		merged[key] = v
	}
	return merged
}

func (s *endpointSelector) pickTemplate() *endpointTemplate {
	if len(s.templates) == 1 {
		return s.templates[0]
	}
	s.mu.Lock()
	n := s.rnd.Intn(s.totalWeight)
	s.mu.Unlock()
	cumulative := 0
	for _, tmpl := range s.templates {
		cumulative += tmpl.weight
		if n < cumulative {
			return tmpl
		}
	}
	return s.templates[len(s.templates)-1]
}

// httpRequester issues one measured attempt against a weighted endpoint. A
// rejected status is reported to the runner as an error so failures are
// counted on both sides.
type httpRequester struct {
	selector *endpointSelector
	accept   instrument.AcceptFunc
}

func (r *httpRequester) Do(ctx context.Context) error {
	tmpl := r.selector.pickTemplate()
	res, err := tmpl.wrapper.Do(ctx, tmpl.op)
	if err != nil {
		return err
	}
	if !r.accept(res.StatusCode) {
		return &instrument.StatusError{StatusCode: res.StatusCode}
	}
	return nil
}
