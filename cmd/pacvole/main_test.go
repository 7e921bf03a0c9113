package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pacvole "github.com/loolooyyyy/pac-vole"
)

func TestPrintDecision(t *testing.T) {
	sel, err := pacvole.New(pacvole.Options{Proxy: "PROXY p:3128; DIRECT"})
	require.NoError(t, err)

	var buf bytes.Buffer
	printDecision(&buf, sel, "http://www.example.com/")
	printDecision(&buf, sel, "http://[::1")
	assert.Equal(t, "http://www.example.com/\tPROXY p:3128; DIRECT\nhttp://[::1\tDIRECT\n", buf.String())
}
