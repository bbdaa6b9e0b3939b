// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigValidDo53(t *testing.T) {
	cfg, err := LoadConfig("testdata/valid_do53.yaml")
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:5353", cfg.Listen)
	require.Equal(t, "do53", cfg.Transport)
	require.Equal(t, []string{"9.9.9.9", "149.112.112.112"}, cfg.Servers)
	require.Equal(t, 2000, cfg.UDPTimeoutMS)
}

func TestLoadConfigValidDot(t *testing.T) {
	cfg, err := LoadConfig("testdata/valid_dot.yaml")
	require.NoError(t, err)
	require.Equal(t, "dot", cfg.Transport)
	require.Equal(t, 128, cfg.BlockLength)
}

func TestLoadConfigMissingListen(t *testing.T) {
	_, err := LoadConfig("testdata/missing_listen.yaml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "listen address is required")
}

func TestLoadConfigBadTransport(t *testing.T) {
	_, err := LoadConfig("testdata/bad_transport.yaml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported transport")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("testdata/does_not_exist.yaml")
	require.Error(t, err)
}

func TestPlainEndpointsFromStrings(t *testing.T) {
	endpoints, err := plainEndpointsFromStrings([]string{"9.9.9.9", "1.1.1.1"})
	require.NoError(t, err)
	require.Len(t, endpoints, 2)

	_, err = plainEndpointsFromStrings([]string{"not-an-ip"})
	require.Error(t, err)
}

func TestDotEndpointsFromStrings(t *testing.T) {
	endpoints, err := dotEndpointsFromStrings([]string{"dns.quad9.net@9.9.9.9:853"})
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	require.Equal(t, "dns.quad9.net", endpoints[0].Hostname())
	require.EqualValues(t, 853, endpoints[0].Port())

	endpoints, err = dotEndpointsFromStrings([]string{"dns.quad9.net@9.9.9.9"})
	require.NoError(t, err)
	require.EqualValues(t, 853, endpoints[0].Port())

	_, err = dotEndpointsFromStrings([]string{"missing-at-sign"})
	require.Error(t, err)
}
