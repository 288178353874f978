package stream

import (
	"fmt"
	"regexp"
)

// Path grammar for incoming upgrade requests: "/" serves the volume-ranked
// all-symbols view, "/currency/<SYMBOL>" serves one symbol's history.
var symbolPathPattern = regexp.MustCompile(`^/currency/([A-Z]+)$`)

type routeKind int

const (
	routeAllSymbols routeKind = iota
	routeSingleSymbol
)

type route struct {
	kind   routeKind
	symbol string
}

// classifyPath maps an upgrade request URI onto a session variant. The
// URI is matched literally, query string included; anything outside the
// grammar is an error and the connection is rejected before a handshake
// is completed.
func classifyPath(uri string) (route, error) {
	if uri == "/" {
		return route{kind: routeAllSymbols}, nil
	}
	if m := symbolPathPattern.FindStringSubmatch(uri); m != nil {
		return route{kind: routeSingleSymbol, symbol: m[1]}, nil
	}
	return route{}, fmt.Errorf("unroutable path %q", uri)
}
