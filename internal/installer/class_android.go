// SPDX-License-Identifier: MPL-2.0

//go:build android

package installer

const nativeClass = ClassAndroid
