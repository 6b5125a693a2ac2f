// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// upstream URLs and OData query strings. Using these validators prevents
// path traversal and query-string injection against the Service Layer.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// resourcePattern matches valid Service Layer entity names.
// Allows: letters and digits, starting with a letter (Orders, U_MyTable is
// NOT a collection name; user tables are addressed through UserTables).
// Max length: 64 characters.
var resourcePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{0,63}$`)

// variablePattern matches substitution variable names used in saved
// questions ({{customer}}).
var variablePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// ValidateResource validates an entity name before it is interpolated into
// a request path.
//
// Example:
//
//	if err := validation.ValidateResource(resource); err != nil {
//	    return nil, fmt.Errorf("invalid resource: %w", err)
//	}
//	// Safe to use in the URL path
func ValidateResource(resource string) error {
	if resource == "" {
		return fmt.Errorf("resource cannot be empty")
	}
	if !resourcePattern.MatchString(resource) {
		return fmt.Errorf("invalid resource name: %q (must be 1-64 alphanumeric chars starting with a letter)", resource)
	}
	return nil
}

// ValidateFilterExpr rejects filter fragments that could smuggle a second
// request or break out of the query string. The Service Layer accepts a
// narrow OData subset; control characters and fragments have no legitimate
// use in it.
func ValidateFilterExpr(filter string) error {
	if filter == "" {
		return nil
	}
	if strings.ContainsAny(filter, "\r\n\x00") {
		return fmt.Errorf("filter contains control characters")
	}
	if strings.Contains(filter, "#") {
		return fmt.Errorf("filter contains a fragment delimiter")
	}
	return nil
}

// ValidateVariables checks every substitution variable name and rejects
// values with control characters.
func ValidateVariables(vars map[string]string) error {
	var invalid []string
	for name, value := range vars {
		if !variablePattern.MatchString(name) {
			invalid = append(invalid, name)
			continue
		}
		if strings.ContainsAny(value, "\r\n\x00") {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid variables: %s", strings.Join(invalid, ", "))
	}
	return nil
}
