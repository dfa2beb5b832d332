package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDemo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runDemo(&buf))
	out := buf.String()

	assert.Contains(t, out, "# Tom has 2 posts waiting and comes online")
	assert.Equal(t, 3, strings.Count(out, "Tom: Chloe"))
	assert.Contains(t, out, "InsertCoin -> Rejected(HasCoin, InsertCoin): You have already got a coin inside")
	assert.Contains(t, out, "TurnKnob   -> Applied(NoCandy)")
	assert.Contains(t, out, "# 0 candy left, state NoCoin")
	assert.Contains(t, out, "You inserted a coin\nInsertCoin -> Applied(HasCoin)")
	assert.Contains(t, out, "One candy drop out\nCandies left: 0\n")
	assert.Contains(t, out, "No more candy left, sorry")
	assert.Equal(t, 2, strings.Count(out, "Checking whether the machine is left with candies"))
}
