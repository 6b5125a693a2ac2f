// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateResource(t *testing.T) {
	valid := []string{"Orders", "BusinessPartners", "UserTables", "O", "Invoices2"}
	for _, r := range valid {
		assert.NoError(t, ValidateResource(r), r)
	}

	invalid := []string{
		"",
		"Orders/../Login",
		"Orders?x=1",
		"2Orders",
		"U_My Table",
		strings.Repeat("A", 65),
	}
	for _, r := range invalid {
		assert.Error(t, ValidateResource(r), r)
	}
}

func TestValidateFilterExpr(t *testing.T) {
	assert.NoError(t, ValidateFilterExpr(""))
	assert.NoError(t, ValidateFilterExpr("$filter=DocTotal gt 1000&$orderby=DocDate desc"))
	assert.NoError(t, ValidateFilterExpr("$filter=CardName eq 'O''Brien'"))

	assert.Error(t, ValidateFilterExpr("$filter=x\r\nHost: evil"))
	assert.Error(t, ValidateFilterExpr("$filter=x#frag"))
	assert.Error(t, ValidateFilterExpr("a\x00b"))
}

func TestValidateVariables(t *testing.T) {
	assert.NoError(t, ValidateVariables(nil))
	assert.NoError(t, ValidateVariables(map[string]string{"customer": "C20000", "from.date": "2025-01-01"}))

	assert.Error(t, ValidateVariables(map[string]string{"bad name": "x"}))
	assert.Error(t, ValidateVariables(map[string]string{"ok": "line1\nline2"}))
	assert.Error(t, ValidateVariables(map[string]string{"": "x"}))
}
