// Package util provides small helpers shared by the storage, security and
// auth packages: safe truncation and masking of identifiers for logs, and IP
// classification used when deciding whether a forwarding proxy is trusted.
package util
