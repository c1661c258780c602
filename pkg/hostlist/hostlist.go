// Package hostlist expands compact node-range notation into explicit
// host lists, e.g. "node[01-03]" -> node01, node02, node03.
package hostlist

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var rangeToken = regexp.MustCompile(`^(.*)\[([^\[\]]+)\](.*)$`)

// Expand parses a comma-separated hostlist specification. Each token is
// either a literal host/IP or contains a single bracketed numeric range
// of the form prefix[low-high]suffix. Zero-padding is preserved when
// low and high share the same width. Output order follows input order,
// with ranges expanded in ascending numeric order.
func Expand(spec string) ([]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return []string{}, nil
	}

	var hosts []string
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		if !strings.ContainsAny(token, "[]") {
			hosts = append(hosts, token)
			continue
		}

		m := rangeToken.FindStringSubmatch(token)
		if m == nil {
			return nil, fmt.Errorf("malformed hostlist token %q", token)
		}
		prefix, bounds, suffix := m[1], m[2], m[3]
		if strings.ContainsAny(prefix, "[]") || strings.ContainsAny(suffix, "[]") {
			return nil, fmt.Errorf("hostlist token %q: only one range per token is supported", token)
		}

		expanded, err := expandRange(prefix, bounds, suffix)
		if err != nil {
			return nil, fmt.Errorf("hostlist token %q: %w", token, err)
		}
		hosts = append(hosts, expanded...)
	}

	if hosts == nil {
		hosts = []string{}
	}
	return hosts, nil
}

func expandRange(prefix, bounds, suffix string) ([]string, error) {
	lowStr, highStr, ok := strings.Cut(bounds, "-")
	if !ok {
		return nil, fmt.Errorf("range %q must have the form low-high", bounds)
	}

	low, err := strconv.Atoi(lowStr)
	if err != nil {
		return nil, fmt.Errorf("invalid range lower bound %q", lowStr)
	}
	high, err := strconv.Atoi(highStr)
	if err != nil {
		return nil, fmt.Errorf("invalid range upper bound %q", highStr)
	}
	if low < 0 || high < low {
		return nil, fmt.Errorf("invalid range %d-%d", low, high)
	}

	// Preserve zero-padding when both bounds share a fixed width.
	width := 0
	if len(lowStr) == len(highStr) && strings.HasPrefix(lowStr, "0") {
		width = len(lowStr)
	}

	hosts := make([]string, 0, high-low+1)
	for i := low; i <= high; i++ {
		var num string
		if width > 0 {
			num = fmt.Sprintf("%0*d", width, i)
		} else {
			num = strconv.Itoa(i)
		}
		hosts = append(hosts, prefix+num+suffix)
	}
	return hosts, nil
}
