// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package utils

// CountBy counts the items per key returned by keyFunc. Items for which
// keyFunc returns the zero value of K are counted under fallback.
func CountBy[K comparable, V any](items []V, fallback K, keyFunc func(item V) K) map[K]int {
	var zero K
	result := make(map[K]int)
	for _, item := range items {
		key := keyFunc(item)
		if key == zero {
			key = fallback
		}
		result[key]++
	}

	return result
}
