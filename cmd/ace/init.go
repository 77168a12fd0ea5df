// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	_ "github.com/ace-ecosystem/ace/pkg/auxiliary/tasks"
	_ "github.com/ace-ecosystem/ace/pkg/engine"
	_ "github.com/ace-ecosystem/ace/pkg/hunter/command"
)
