package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDefinition() TaskDefinition {
	return TaskDefinition{
		Code:                  3,
		ProjectCode:           1,
		ProcessDefinitionCode: 2,
		Description:           "nightly rollup",
		Flag:                  FlagYes,
		TaskPriority:          PriorityHigh,
		FailRetryTimes:        2,
		FailRetryInterval:     5,
		DelayTime:             1,
		TimeoutFlag:           TimeoutOpen,
		Timeout:               TimeoutSentinel,
		TimeoutNotifyStrategy: NotifyWarnFailed,
		UpstreamTaskMap:       map[int64]string{205: "b", 101: "a"},
	}
}

func TestDecodeTask_RunFlag(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		flag Flag
		want bool
	}{
		{FlagYes, true},
		{FlagNo, false},
		{"", false},
		{"yes", false},
	} {
		got := DecodeTask(TaskDefinition{Flag: tc.flag}).RunFlag
		assert.Equal(t, tc.want, got, "flag %q", tc.flag)
	}
}

func TestTaskRoundTrip_NoEdits(t *testing.T) {
	t.Parallel()

	def := sampleDefinition()
	sub, err := EncodeTask(DecodeTask(def))
	require.NoError(t, err)

	assert.Equal(t, FlagYes, sub.Body.Flag)
	assert.Equal(t, def.TaskPriority, sub.Body.TaskPriority)
	assert.Equal(t, def.Description, sub.Body.Description)
	assert.Equal(t, TimeoutOpen, sub.Body.TimeoutFlag)
	require.NotNil(t, sub.Body.TimeoutNotifyStrategy)
	assert.Equal(t, NotifyWarnFailed, *sub.Body.TimeoutNotifyStrategy)
	assert.Equal(t, "101,205", sub.UpstreamCodes)
}

func TestDecodeEncode_Identity(t *testing.T) {
	t.Parallel()

	forms := []TaskForm{
		{Description: "a", RunFlag: true, TaskPriority: PriorityLowest, NotifyStrategies: []NotifyStrategy{}, UpstreamCodes: []int64{}},
		{RunFlag: false, TaskPriority: PriorityHighest, FailRetryTimes: 3, TimeoutEnabled: true, Timeout: TimeoutSentinel,
			NotifyStrategies: []NotifyStrategy{NotifyFailed}, UpstreamCodes: []int64{7, 9}},
		{RunFlag: true, TaskPriority: PriorityMedium, TimeoutEnabled: true, Timeout: TimeoutSentinel,
			NotifyStrategies: []NotifyStrategy{NotifyWarn, NotifyFailed}, UpstreamCodes: []int64{1}},
	}
	for _, f := range forms {
		sub, err := EncodeTask(f)
		require.NoError(t, err)

		codes, err := SplitCodes(sub.UpstreamCodes)
		require.NoError(t, err)
		upstream := map[int64]string{}
		for _, c := range codes {
			upstream[c] = ""
		}
		strategy := ""
		if sub.Body.TimeoutNotifyStrategy != nil {
			strategy = *sub.Body.TimeoutNotifyStrategy
		}
		def := TaskDefinition{
			Description:           sub.Body.Description,
			Flag:                  sub.Body.Flag,
			TaskPriority:          sub.Body.TaskPriority,
			FailRetryTimes:        sub.Body.FailRetryTimes,
			FailRetryInterval:     sub.Body.FailRetryInterval,
			DelayTime:             sub.Body.DelayTime,
			TimeoutFlag:           sub.Body.TimeoutFlag,
			Timeout:               sub.Body.Timeout,
			TimeoutNotifyStrategy: strategy,
			UpstreamTaskMap:       upstream,
		}
		if diff := cmp.Diff(f, DecodeTask(def)); diff != "" {
			t.Errorf("decode(encode(x)) mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestNotifyStrategy_BothIsWarnFailed(t *testing.T) {
	t.Parallel()

	for _, sel := range [][]NotifyStrategy{
		{NotifyWarn, NotifyFailed},
		{NotifyFailed, NotifyWarn},
	} {
		wire, err := EncodeNotifyStrategy(sel)
		require.NoError(t, err)
		assert.Equal(t, "WARNFAILED", wire)
	}
	assert.ElementsMatch(t, []NotifyStrategy{NotifyWarn, NotifyFailed}, DecodeNotifyStrategy("WARNFAILED"))
}

func TestDecodeNotifyStrategy(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []NotifyStrategy{}, DecodeNotifyStrategy(""))
	assert.Equal(t, []NotifyStrategy{NotifyWarn}, DecodeNotifyStrategy("WARN"))
	assert.Equal(t, []NotifyStrategy{NotifyWarn, NotifyFailed}, DecodeNotifyStrategy("WARN, FAILED"))
}

func TestEncodeNotifyStrategy_Errors(t *testing.T) {
	t.Parallel()

	_, err := EncodeNotifyStrategy(nil)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "timeoutNotifyStrategy", ve.Field)

	_, err = EncodeNotifyStrategy([]NotifyStrategy{"PAGE"})
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Msg, "PAGE")
}

func TestEncodeTask_TimeoutOnWithoutStrategy(t *testing.T) {
	t.Parallel()

	f := DecodeTask(sampleDefinition())
	f.NotifyStrategies = nil

	_, err := EncodeTask(f)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "timeoutNotifyStrategy: select at least one timeout strategy", ve.Error())
}

func TestEncodeTask_TimeoutOffClearsFields(t *testing.T) {
	t.Parallel()

	f := DecodeTask(sampleDefinition())
	f.TimeoutEnabled = false
	f.Timeout = 30

	sub, err := EncodeTask(f)
	require.NoError(t, err)
	assert.Equal(t, TimeoutClose, sub.Body.TimeoutFlag)
	assert.Equal(t, 0, sub.Body.Timeout)
	assert.Nil(t, sub.Body.TimeoutNotifyStrategy)

	raw, err := json.Marshal(sub.Body)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.NotContains(t, m, "timeoutNotifyStrategy")
	assert.Equal(t, "CLOSE", m["timeoutFlag"])
	assert.EqualValues(t, 0, m["timeout"])
}

func TestEncodeTask_TimeoutOnUsesSentinel(t *testing.T) {
	t.Parallel()

	f := TaskForm{TimeoutEnabled: true, Timeout: 45, NotifyStrategies: []NotifyStrategy{NotifyWarn}}
	sub, err := EncodeTask(f)
	require.NoError(t, err)
	assert.Equal(t, TimeoutOpen, sub.Body.TimeoutFlag)
	assert.Equal(t, TimeoutSentinel, sub.Body.Timeout)
	require.NotNil(t, sub.Body.TimeoutNotifyStrategy)
	assert.Equal(t, "WARN", *sub.Body.TimeoutNotifyStrategy)
}

func TestUpstreamCodes(t *testing.T) {
	t.Parallel()

	f := DecodeTask(TaskDefinition{UpstreamTaskMap: map[int64]string{205: "x", 101: "y"}})
	assert.ElementsMatch(t, []int64{101, 205}, f.UpstreamCodes)

	sub, err := EncodeTask(f)
	require.NoError(t, err)
	assert.Contains(t, []string{"101,205", "205,101"}, sub.UpstreamCodes)

	assert.Equal(t, []int64{}, DecodeTask(TaskDefinition{}).UpstreamCodes)
	assert.Equal(t, "", JoinCodes(nil))
}

func TestSplitCodes(t *testing.T) {
	t.Parallel()

	got, err := SplitCodes(" 1, 22 ,333")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 22, 333}, got)

	got, err = SplitCodes("  ")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = SplitCodes("1,x")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestPriorityJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, `"LOW"`, string(b))

	var p Priority
	require.NoError(t, json.Unmarshal([]byte(`"highest"`), &p))
	assert.Equal(t, PriorityHighest, p)
	require.NoError(t, json.Unmarshal([]byte(`4`), &p))
	assert.Equal(t, PriorityLowest, p)
	require.NoError(t, json.Unmarshal([]byte(`null`), &p))
	assert.Equal(t, PriorityMedium, p)
	assert.Error(t, json.Unmarshal([]byte(`"URGENT"`), &p))
	assert.Error(t, json.Unmarshal([]byte(`9`), &p))
	p = PriorityLow
	assert.Error(t, json.Unmarshal([]byte(`2.7`), &p))
	assert.Equal(t, PriorityLow, p, "rejected values leave the rank alone")
	require.NoError(t, json.Unmarshal([]byte(`1.0`), &p))
	assert.Equal(t, PriorityHigh, p)

	assert.True(t, PriorityHighest < PriorityLowest)
	_, err = json.Marshal(Priority(9))
	assert.Error(t, err)
	assert.False(t, Priority(9).Valid())
	assert.False(t, Priority(-1).Valid())
	assert.True(t, PriorityLowest.Valid())
}

func TestEncodeTask_PriorityOutOfRange(t *testing.T) {
	t.Parallel()

	_, err := EncodeTask(TaskForm{RunFlag: true, TaskPriority: Priority(9)})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "taskPriority", ve.Field)
}

func TestParseReleaseState(t *testing.T) {
	t.Parallel()

	s, err := ParseReleaseState(" online ")
	require.NoError(t, err)
	assert.Equal(t, ReleaseOnline, s)
	_, err = ParseReleaseState("PAUSED")
	assert.Error(t, err)
}
