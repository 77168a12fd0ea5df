// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package version

// Version is the version of the application. It is set during build time
// via ldflags.
var Version = "v0.0.0-dev"
