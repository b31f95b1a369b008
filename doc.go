// Package main provides the entry point for the AccessMirror service. It
// mirrors user accounts from the directory service and security groups,
// memberships, inheritance and access rules from the application database
// into one local store, keeps a ledger of every sync run, and reconciles
// the two sources into discrepancy reports served over a REST API. The
// application uses gorm for data persistence and Fiber for the web layer.
package main
