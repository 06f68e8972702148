// Command sentinel runs the AI crawler detection service. It serves (or proxies) a site,
// classifies every request by User-Agent, and reports AI crawler visits to the collection
// backend after each response has been sent.
//
// Usage:
//
//	sentinel -config /etc/sentinel/config.yaml
//
// Every setting can also be supplied through SENTINEL_* environment variables, for example
// SENTINEL_DETECTION_SITE_ID.
package main
