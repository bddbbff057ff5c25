package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestSimulateBracket(t *testing.T) {
	out, err := execute(t, "simulate", "--entrants", "5", "--seed", "7", "--format", "json")
	require.NoError(t, err)

	assert.Equal(t, int64(7), gjson.Get(out, "seed").Int())
	assert.Equal(t, int64(4), gjson.Get(out, "matches").Int())
	assert.Equal(t, "bracket", gjson.Get(out, "outcome.mode").String())
	assert.True(t, gjson.Get(out, "outcome.champion.id").Exists())
	assert.Len(t, gjson.Get(out, "balances").Map(), 2)
	assert.Len(t, gjson.Get(out, `events.#(type=="round.bye")#`).Array(), 2)
}

func TestSimulateTeamWar(t *testing.T) {
	out, err := execute(t, "simulate", "--mode", "team_war", "--entrants", "6", "--seed", "3", "--bettors", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "seed 3, 3 matches")
	assert.Regexp(t, `team war (won by|drawn)`, out)
}

func TestSimulateSameSeedSameChampion(t *testing.T) {
	first, err := execute(t, "simulate", "--entrants", "8", "--seed", "11", "--bettors", "0")
	require.NoError(t, err)
	second, err := execute(t, "simulate", "--entrants", "8", "--seed", "11", "--bettors", "0")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSimulateRejectsBadInput(t *testing.T) {
	testCases := [][]string{
		{"simulate", "--mode", "royale"},
		{"simulate", "--entrants", "1"},
		{"simulate", "--mode", "team_war", "--entrants", "5"},
		{"simulate", "--format", "yaml"},
	}
	for _, args := range testCases {
		_, err := execute(t, args...)
		assert.Error(t, err, "%v", args)
	}
}
