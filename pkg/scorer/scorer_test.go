package scorer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"evalgo/pkg/core"
	"evalgo/pkg/model"
)

func TestExactMatch(t *testing.T) {
	sc := ExactMatch{CaseSensitive: false, NormalizeWhitespace: true}
	sample := core.Sample{Target: "Hello World"}
	resp := core.Response{Content: "  hello   world  "}

	score, err := sc.Score(context.Background(), sample, resp)
	require.NoError(t, err)
	require.True(t, score.Passed)
	require.Equal(t, 1.0, score.Value)
}

func TestIncludes(t *testing.T) {
	sc := Includes{CaseSensitive: false, NormalizeWhitespace: true}
	sample := core.Sample{Target: "world"}
	resp := core.Response{Content: "Hello World"}

	score, err := sc.Score(context.Background(), sample, resp)
	require.NoError(t, err)
	require.True(t, score.Passed)
}

func TestNumericMatchTolerance(t *testing.T) {
	sc := NumericMatch{Tolerance: 0.01}
	sample := core.Sample{Target: "the result is 3.14"}
	resp := core.Response{Content: "I computed roughly 3.141"}

	score, err := sc.Score(context.Background(), sample, resp)
	require.NoError(t, err)
	require.True(t, score.Passed)
}

func TestNumericMatchGroupedDigits(t *testing.T) {
	sc := NumericMatch{}
	sample := core.Sample{Target: "1,234"}
	resp := core.Response{Content: "The answer is 1234"}

	score, err := sc.Score(context.Background(), sample, resp)
	require.NoError(t, err)
	require.True(t, score.Passed)
}

func TestModelGradedVerdicts(t *testing.T) {
	sample := core.Sample{Input: "q", Target: "4"}
	resp := core.Response{Content: "four"}

	pass, err := ModelGraded{Judge: &model.MockModel{ResponseText: "CORRECT"}}.Score(context.Background(), sample, resp)
	require.NoError(t, err)
	require.True(t, pass.Passed)

	fail, err := ModelGraded{Judge: &model.MockModel{ResponseText: "INCORRECT"}}.Score(context.Background(), sample, resp)
	require.NoError(t, err)
	require.False(t, fail.Passed)
}
