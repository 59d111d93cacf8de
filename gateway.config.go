package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// placeholderPattern matches a `{name}` path template variable.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// DownstreamHostAndPort is one address of a downstream service.
type DownstreamHostAndPort struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// GatewayRoute maps requests matching the upstream template to a downstream service.
type GatewayRoute struct {
	UpstreamPathTemplate   string                  `yaml:"upstream_path_template" json:"upstream_path_template"`
	UpstreamHTTPMethods    []string                `yaml:"upstream_http_methods" json:"upstream_http_methods"`
	DownstreamPathTemplate string                  `yaml:"downstream_path_template" json:"downstream_path_template"`
	DownstreamScheme       string                  `yaml:"downstream_scheme" json:"downstream_scheme"`
	DownstreamHostAndPorts []DownstreamHostAndPort `yaml:"downstream_host_and_ports" json:"downstream_host_and_ports"`
}

// RouteTable is the ordered list of gateway routes. The first matching route wins.
type RouteTable struct {
	Routes []GatewayRoute `yaml:"routes" json:"routes"`
}

// LoadGatewayRoutes reads and validates the route table file.
func LoadGatewayRoutes(path string) (*RouteTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway routes file: %w", err)
	}
	table := &RouteTable{}
	if err = yaml.Unmarshal(data, table); err != nil {
		return nil, fmt.Errorf("failed to decode gateway routes file: %w", err)
	}
	if err = table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// Validate checks every route and sets the default scheme and methods case.
func (rt *RouteTable) Validate() error {
	if len(rt.Routes) == 0 {
		return errors.New("gateway routes: no route defined")
	}
	for i := range rt.Routes {
		if err := rt.Routes[i].validate(); err != nil {
			return fmt.Errorf("gateway routes: route #%d: %w", i+1, err)
		}
	}
	return nil
}

func (gr *GatewayRoute) validate() error {
	if !strings.HasPrefix(gr.UpstreamPathTemplate, "/") {
		return fmt.Errorf("upstream path template %q must start with /", gr.UpstreamPathTemplate)
	}
	if !strings.HasPrefix(gr.DownstreamPathTemplate, "/") {
		return fmt.Errorf("downstream path template %q must start with /", gr.DownstreamPathTemplate)
	}

	upstreamVars := make(map[string]struct{})
	for _, name := range templateVariables(gr.UpstreamPathTemplate) {
		if _, found := upstreamVars[name]; found {
			return fmt.Errorf("upstream path template %q repeats placeholder {%s}", gr.UpstreamPathTemplate, name)
		}
		upstreamVars[name] = struct{}{}
	}
	for _, name := range templateVariables(gr.DownstreamPathTemplate) {
		if _, found := upstreamVars[name]; !found {
			return fmt.Errorf("downstream placeholder {%s} is not defined upstream", name)
		}
	}

	for i, m := range gr.UpstreamHTTPMethods {
		gr.UpstreamHTTPMethods[i] = strings.ToUpper(strings.TrimSpace(m))
		if gr.UpstreamHTTPMethods[i] == "" {
			return errors.New("upstream http methods must not contain an empty value")
		}
	}

	switch gr.DownstreamScheme = strings.ToLower(gr.DownstreamScheme); gr.DownstreamScheme {
	case "":
		gr.DownstreamScheme = "http"
	case "http", "https":
	default:
		return fmt.Errorf("unsupported downstream scheme %q", gr.DownstreamScheme)
	}

	if len(gr.DownstreamHostAndPorts) == 0 {
		return errors.New("at least one downstream host is required")
	}
	for _, hp := range gr.DownstreamHostAndPorts {
		if hp.Host == "" {
			return errors.New("downstream host must not be empty")
		}
		if hp.Port <= 0 || hp.Port > 65535 {
			return fmt.Errorf("downstream port %d is not valid", hp.Port)
		}
	}
	return nil
}

// Downstream returns the address requests are forwarded to. Only the first
// configured host is used.
func (gr *GatewayRoute) Downstream() string {
	hp := gr.DownstreamHostAndPorts[0]
	return hp.Host + ":" + strconv.Itoa(hp.Port)
}

// MatchesMethod reports if the route accepts the given method. No listed method means any.
func (gr *GatewayRoute) MatchesMethod(method string) bool {
	if len(gr.UpstreamHTTPMethods) == 0 {
		return true
	}
	for _, m := range gr.UpstreamHTTPMethods {
		if m == method {
			return true
		}
	}
	return false
}

// AllMethods lists the methods allowed by CORS on the gateway.
var AllMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

func templateVariables(tpl string) []string {
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(tpl, -1) {
		names = append(names, m[1])
	}
	return names
}

// toMuxTemplate converts a route template into a gorilla/mux one. A placeholder
// ending the template becomes a catch-all spanning several path segments.
func toMuxTemplate(tpl string) string {
	locs := placeholderPattern.FindAllStringSubmatchIndex(tpl, -1)
	if len(locs) == 0 {
		return tpl
	}
	last := locs[len(locs)-1]
	if last[1] != len(tpl) {
		return tpl
	}
	return tpl[:last[0]] + "{" + tpl[last[2]:last[3]] + ":.*}"
}

// expandTemplate substitutes the placeholders with the matched values.
func expandTemplate(tpl string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tpl, func(m string) string {
		return vars[m[1:len(m)-1]]
	})
}

// reverseRoute maps the paths of a downstream template back to the upstream
// template of the same route.
type reverseRoute struct {
	downstream string
	pattern    *regexp.Regexp
	names      []string
	upstream   string
}

// newReverseRoute compiles the downstream template of a route. It fails when
// the upstream template needs a variable the downstream one does not carry.
func newReverseRoute(route GatewayRoute) (reverseRoute, bool) {
	tpl := route.DownstreamPathTemplate
	locs := placeholderPattern.FindAllStringSubmatchIndex(tpl, -1)
	var expr strings.Builder
	expr.WriteString("^")
	names := make([]string, 0, len(locs))
	prev := 0
	for _, loc := range locs {
		expr.WriteString(regexp.QuoteMeta(tpl[prev:loc[0]]))
		if loc[1] == len(tpl) {
			expr.WriteString("(.*)")
		} else {
			expr.WriteString("([^/]*)")
		}
		names = append(names, tpl[loc[2]:loc[3]])
		prev = loc[1]
	}
	expr.WriteString(regexp.QuoteMeta(tpl[prev:]))
	expr.WriteString("$")

	known := make(map[string]bool, len(names))
	for _, name := range names {
		known[name] = true
	}
	for _, name := range templateVariables(route.UpstreamPathTemplate) {
		if !known[name] {
			return reverseRoute{}, false
		}
	}
	pattern, err := regexp.Compile(expr.String())
	if err != nil {
		return reverseRoute{}, false
	}
	return reverseRoute{
		downstream: route.Downstream(),
		pattern:    pattern,
		names:      names,
		upstream:   route.UpstreamPathTemplate,
	}, true
}

// upstreamPath returns the upstream path of a downstream one if it matches.
func (rr reverseRoute) upstreamPath(path string) (string, bool) {
	m := rr.pattern.FindStringSubmatch(path)
	if m == nil {
		return "", false
	}
	vars := make(map[string]string, len(rr.names))
	for i, name := range rr.names {
		vars[name] = m[i+1]
	}
	return expandTemplate(rr.upstream, vars), true
}
