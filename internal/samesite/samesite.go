// Package samesite decides whether browser-managed credentialed cookies can be
// trusted between the current page and the identity provider. The decision is a
// shared-suffix heuristic, not a public-suffix-list lookup.
package samesite

import (
	"net"
	"net/url"
	"strings"
)

// SharedSite reports whether the page at page can rely on credentialed
// cross-site cookies for requests to provider.
//
// Loopback pages and pages not served over TLS never qualify: tokens must be
// carried manually there. Otherwise the two hosts are compared label by label
// from the TLD inward; identical hosts qualify, as does any pair sharing at
// least two trailing labels. Hosts under multi-label public suffixes can be
// misclassified by the two-label rule.
func SharedSite(provider *url.URL, page *url.URL) bool {
	if page == nil || provider == nil {
		return false
	}

	pageHost := normalizeHost(page.Host)
	if IsLoopback(pageHost) {
		return false
	}
	if page.Scheme != "https" {
		return false
	}

	providerHost := normalizeHost(provider.Host)
	pLabels := reversedLabels(providerHost)
	qLabels := reversedLabels(pageHost)

	matched := 0
	for matched < len(pLabels) && matched < len(qLabels) && pLabels[matched] == qLabels[matched] {
		matched++
	}

	if matched == len(pLabels) && len(pLabels) == len(qLabels) {
		return true
	}
	return matched >= 2
}

// IsLoopback reports whether host names the local machine.
func IsLoopback(host string) bool {
	host = normalizeHost(host)
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func normalizeHost(host string) string {
	host = strings.ToLower(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}

func reversedLabels(host string) []string {
	labels := strings.Split(host, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return labels
}
