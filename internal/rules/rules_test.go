package rules

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/expressions"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// --- helpers ---

func inputs(pairs ...any) schema.InputData {
	var d schema.InputData
	for i := 0; i+1 < len(pairs); i += 2 {
		d = append(d, schema.InputValue{Name: pairs[i].(string), Values: []any{pairs[i+1]}})
	}
	return d
}

func testEnv(class string, data schema.InputData) *Env {
	return &Env{
		Ctx:    context.Background(),
		NodeID: "7",
		Node:   &schema.Node{ID: "7", ClassType: class},
		Inputs: data,
		Cache:  NewRunCache(),
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var metaErr *schema.MetaError
	require.True(t, errors.As(err, &metaErr))
	assert.Equal(t, code, metaErr.Code)
}

func newCaps(t *testing.T) *Capabilities {
	t.Helper()
	set, err := expressions.NewSet()
	require.NoError(t, err)
	return NewCapabilities(set)
}

// --- rules ---

func TestCaptureRule_Check(t *testing.T) {
	tests := []struct {
		name    string
		rule    CaptureRule
		wantErr bool
	}{
		{"value", Value(1), false},
		{"field", Field("seed"), false},
		{"empty field", Field(""), true},
		{"fields", Fields("a", "b"), false},
		{"no fields", Fields(), true},
		{"fields with blank", Fields("a", ""), true},
		{"prefix", Prefix("clip_name"), false},
		{"empty prefix", Prefix(""), true},
		{"selector", Selector("lora_stack.names"), false},
		{"empty selector", Selector(""), true},
		{"zero", CaptureRule{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Check()
			if tt.wantErr {
				requireCode(t, err, schema.ErrCodeValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCaptureRule_Builders(t *testing.T) {
	r := Field("text").WithValidate("v").WithFormat("f")
	assert.Equal(t, KindField, r.Kind)
	assert.Equal(t, "v", r.Validate)
	assert.Equal(t, "f", r.Format)
	assert.Equal(t, "field(text) validate=v format=f", r.String())

	assert.True(t, Fields("a").Simple())
	assert.True(t, Value(1).Simple())
	assert.False(t, Prefix("a").Simple())
	assert.False(t, Selector("x").Simple())
}

func TestFields_CopiesNames(t *testing.T) {
	names := []string{"a", "b"}
	r := Fields(names...)
	names[0] = "z"
	assert.Equal(t, []string{"a", "b"}, r.Names)
}

// --- match criteria ---

func TestMatches(t *testing.T) {
	tests := []struct {
		name      string
		criterion MatchCriterion
		class     string
		want      bool
	}{
		{"keyword hit", ExactKeyword{Keyword: "Sampler"}, "KSamplerAdvanced", true},
		{"keyword case sensitive", ExactKeyword{Keyword: "sampler"}, "KSampler", false},
		{"empty keyword", ExactKeyword{}, "KSampler", false},
		{"regex hit", Regex{Pattern: `^KSampler.*\(Efficient\)$`}, "KSampler (Efficient)", true},
		{"regex miss", Regex{Pattern: `^KSampler$`}, "KSamplerAdvanced", false},
		{"invalid regex", Regex{Pattern: `(`}, "anything", false},
		{"group all", KeywordGroup{Keywords: []string{"text", "encode"}}, "CLIPTextEncode", true},
		{"group min count", KeywordGroup{Keywords: []string{"lora", "stack", "tag"}, MinCount: 2}, "CR LoRA Stack", true},
		{"group below min", KeywordGroup{Keywords: []string{"lora", "stack", "tag"}, MinCount: 3}, "CR LoRA Stack", false},
		{"empty group", KeywordGroup{}, "X", false},
		{"empty class", ExactKeyword{Keyword: "X"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.criterion, tt.class))
		})
	}
}

func TestCheckCriterion(t *testing.T) {
	assert.NoError(t, CheckCriterion(Regex{Pattern: "^a"}))
	requireCode(t, CheckCriterion(Regex{Pattern: "("}), schema.ErrCodeValidation)
	requireCode(t, CheckCriterion(ExactKeyword{}), schema.ErrCodeValidation)
	requireCode(t, CheckCriterion(KeywordGroup{}), schema.ErrCodeValidation)
	requireCode(t, CheckCriterion(nil), schema.ErrCodeValidation)
}

// --- registry ---

func TestRegistry_AddConflict(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add("KSampler", schema.FieldSeed, Field("seed")))
	requireCode(t, r.Add("KSampler", schema.FieldSeed, Field("noise_seed")), schema.ErrCodeConflict)

	requireCode(t, r.Add("", schema.FieldSeed, Field("seed")), schema.ErrCodeValidation)
	requireCode(t, r.Add("X", schema.Field(0), Field("seed")), schema.ErrCodeValidation)
	requireCode(t, r.Add("X", schema.FieldSeed, Field("")), schema.ErrCodeValidation)
}

func TestRegistry_ExactBeforePattern(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddPattern(ExactKeyword{Keyword: "Encode"}, ClassRules{schema.FieldCLIPPrompt: Field("p1")}))
	require.NoError(t, r.AddPattern(ExactKeyword{Keyword: "Text"}, ClassRules{schema.FieldCLIPPrompt: Field("p2")}))
	require.NoError(t, r.AddClass("CLIPTextEncode", ClassRules{schema.FieldCLIPPrompt: Field("exact")}))

	rule, ok := r.Rule("CLIPTextEncode", schema.FieldCLIPPrompt)
	require.True(t, ok)
	assert.Equal(t, []string{"exact"}, rule.Names)

	// Pattern entries in registration order.
	rule, ok = r.Rule("MyTextEncoder", schema.FieldCLIPPrompt)
	require.True(t, ok)
	assert.Equal(t, []string{"p1"}, rule.Names)

	_, ok = r.Rules("VAELoader")
	assert.False(t, ok)
}

func TestRegistry_AddPatternValidation(t *testing.T) {
	r := NewRegistry()
	requireCode(t, r.AddPattern(Regex{Pattern: "("}, ClassRules{schema.FieldSeed: Field("a")}), schema.ErrCodeValidation)
	requireCode(t, r.AddPattern(ExactKeyword{Keyword: "a"}, ClassRules{}), schema.ErrCodeValidation)
	requireCode(t, r.AddPattern(ExactKeyword{Keyword: "a"}, ClassRules{schema.FieldSeed: Prefix("")}), schema.ErrCodeValidation)
}

func TestRegistry_Samplers(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddSampler("KSampler", SamplerSockets{SocketPositive: "positive"}))
	requireCode(t, r.AddSampler("KSampler", nil), schema.ErrCodeConflict)
	require.NoError(t, r.AddSamplerPattern(Regex{Pattern: `Efficient`}, SamplerSockets{SocketPositive: "pos"}))
	require.NoError(t, r.AddGuider("CFGGuider", SamplerSockets{SocketNegative: "negative"}))
	requireCode(t, r.AddGuider("CFGGuider", nil), schema.ErrCodeConflict)

	s, ok := r.Sockets("KSampler (Efficient)")
	require.True(t, ok)
	assert.Equal(t, "pos", s[SocketPositive])

	assert.True(t, r.IsExplicitSampler("KSampler"))
	assert.False(t, r.IsExplicitSampler("CFGGuider"))

	s, ok = r.PromptSockets("CFGGuider")
	require.True(t, ok)
	assert.Equal(t, "negative", s[SocketNegative])
	_, ok = r.PromptSockets("VAELoader")
	assert.False(t, ok)
}

func TestRegistry_SocketsAreCopied(t *testing.T) {
	r := NewRegistry()
	sockets := SamplerSockets{SocketPositive: "positive"}
	require.NoError(t, r.AddSampler("KSampler", sockets))
	sockets[SocketPositive] = "changed"

	s, _ := r.Sockets("KSampler")
	assert.Equal(t, "positive", s[SocketPositive])
}

func TestRegistry_Heuristics(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddClass("Named", ClassRules{schema.FieldSamplerName: Field("sampler_name")}))
	require.NoError(t, r.AddClass("StepsCFG", ClassRules{schema.FieldSteps: Field("steps"), schema.FieldCFG: Field("cfg")}))
	require.NoError(t, r.AddClass("StepsOnly", ClassRules{schema.FieldSteps: Field("steps")}))
	require.NoError(t, r.AddClass("Encoder", ClassRules{schema.FieldNegativePrompt: Field("text")}))

	assert.True(t, r.IsHeuristicSampler("Named"))
	assert.True(t, r.IsHeuristicSampler("StepsCFG"))
	assert.False(t, r.IsHeuristicSampler("StepsOnly"))
	assert.False(t, r.IsSamplerLike("Unknown"))

	assert.True(t, r.IsPromptEncoder("Encoder"))
	assert.False(t, r.IsPromptEncoder("Named"))

	assert.Equal(t, []string{"Encoder", "Named", "StepsCFG", "StepsOnly"}, r.Classes())
	assert.Equal(t, 4, r.Len())
}

func TestDefaults(t *testing.T) {
	r := Defaults()

	assert.True(t, r.IsExplicitSampler("KSampler"))
	assert.True(t, r.IsExplicitSampler("KSampler Adv. (Efficient)"))
	assert.False(t, r.IsExplicitSampler("KSamplerSelect"))
	assert.True(t, r.IsPromptEncoder("CLIPTextEncode"))
	assert.True(t, r.IsPromptEncoder("SomePackTextEncoder"))

	rule, ok := r.Rule("KSampler", schema.FieldSamplerName)
	require.True(t, ok)
	assert.Equal(t, SelectSamplerWithScheduler, rule.Selector)

	rule, ok = r.Rule("CLIPTextEncode", schema.FieldPositivePrompt)
	require.True(t, ok)
	assert.Equal(t, ValidatePositivePrompt, rule.Validate)

	rule, ok = r.Rule("DualCLIPLoader", schema.FieldCLIPModelHash)
	require.True(t, ok)
	assert.Equal(t, KindPrefix, rule.Kind)
	assert.Equal(t, FormatHashCLIP, rule.Format)

	s, ok := r.PromptSockets("CFGGuider")
	require.True(t, ok)
	assert.Equal(t, "positive", s[SocketPositive])
}

func TestDefaults_EfficientLoaderUsesExpressions(t *testing.T) {
	r := Defaults()
	set, err := expressions.NewSet()
	require.NoError(t, err)
	caps := NewCapabilities(set)

	for f, want := range map[schema.Field]string{
		schema.FieldVAEName:       SelectEfficientVAE,
		schema.FieldLoraModelName: ValidateLoraSelected,
		schema.FieldCLIPSkip:      FormatAbsValue,
	} {
		rule, ok := r.Rule("Efficient Loader", f)
		require.True(t, ok, f.String())
		assert.Contains(t, []string{rule.Selector, rule.Validate, rule.Format}, want)
		assert.True(t, set.Handles(want), want)
	}
	assert.True(t, caps.Has(CapSelector, SelectEfficientVAE))
	assert.True(t, caps.Has(CapValidator, ValidateLoraSelected))
	assert.True(t, caps.Has(CapFormatter, FormatAbsValue))

	_, ok := r.Rule("KSampler (Efficient)", schema.FieldSteps)
	assert.True(t, ok)
}

// --- capabilities ---

func TestCapabilities_Register(t *testing.T) {
	c := NewCapabilities(nil)
	sel := func(env *Env) (any, error) { return "x", nil }

	require.NoError(t, c.RegisterSelector("a.b", sel))
	requireCode(t, c.RegisterSelector("a.b", sel), schema.ErrCodeConflict)
	requireCode(t, c.RegisterSelector("", sel), schema.ErrCodeValidation)
	requireCode(t, c.RegisterSelector("nil.fn", nil), schema.ErrCodeValidation)
	requireCode(t, c.RegisterSelector("cel:reserved", sel), schema.ErrCodeValidation)

	// Same id in another kind is independent.
	require.NoError(t, c.RegisterValidator("a.b", func(*Env) bool { return true }))
	require.NoError(t, c.RegisterFormatter("a.b", func(raw any, _ *Env) (any, error) { return raw, nil }))
	requireCode(t, c.RegisterValidator("a.b", func(*Env) bool { return true }), schema.ErrCodeConflict)
	requireCode(t, c.RegisterFormatter("a.b", func(raw any, _ *Env) (any, error) { return raw, nil }), schema.ErrCodeConflict)

	assert.Equal(t, []string{"a.b"}, c.List(CapSelector))
	assert.True(t, c.Has(CapValidator, "a.b"))
	assert.False(t, c.Has(CapFormatter, "missing"))
	assert.False(t, c.Has(CapSelector, "cel:true"), "expressions disabled without a set")
}

func TestCapabilities_ExpressionBacked(t *testing.T) {
	c := newCaps(t)
	env := testEnv("KSampler", inputs("steps", 28.0, "sampler_name", "euler"))

	sel, ok := c.Selector(`jq:.inputs.sampler_name`)
	require.True(t, ok)
	v, err := sel(env)
	require.NoError(t, err)
	assert.Equal(t, "euler", v)

	val, ok := c.Validator(`cel:inputs.steps > 20.0`)
	require.True(t, ok)
	assert.True(t, val(env))

	notBool, ok := c.Validator(`cel:inputs.sampler_name`)
	require.True(t, ok)
	assert.False(t, notBool(env))

	broken, ok := c.Validator(`cel:inputs.absent > 1.0`)
	require.True(t, ok)
	assert.False(t, broken(env))

	fmtr, ok := c.Formatter(`expr:value * 2`)
	require.True(t, ok)
	out, err := fmtr(21.0, env)
	require.NoError(t, err)
	assert.Equal(t, 42.0, out)

	_, ok = c.Selector("lua:x")
	assert.False(t, ok)
	assert.Empty(t, c.List(CapFormatter))
}

// --- apply ---

func TestApply_Value(t *testing.T) {
	// Literal values skip validation and formatting entirely.
	rule := Value("fixed").WithValidate("missing").WithFormat("missing")
	assert.Equal(t, []any{"fixed"}, Apply(rule, testEnv("X", nil), nil))
}

func TestApply_Field(t *testing.T) {
	env := testEnv("X", inputs("seed", 42.0, "empty", "None"))
	assert.Equal(t, []any{42.0}, Apply(Field("seed"), env, nil))
	assert.Equal(t, []any{"None"}, Apply(Field("empty"), env, nil))
	assert.Nil(t, Apply(Field("absent"), env, nil))
}

func TestApply_FieldsFirstUsable(t *testing.T) {
	env := testEnv("X", inputs("a", "None", "b", "", "c", "third", "d", "fourth"))
	assert.Equal(t, []any{"third"}, Apply(Fields("missing", "a", "b", "c", "d"), env, nil))
	assert.Nil(t, Apply(Fields("a", "b"), env, nil))
}

func TestApply_PrefixDeclarationOrder(t *testing.T) {
	env := testEnv("X", inputs("clip_name2", "b", "type", "flux", "clip_name1", "a", "clip_name3", "None"))
	assert.Equal(t, []any{"b", "a"}, Apply(Prefix("clip_name"), env, nil))
}

func TestApply_Selector(t *testing.T) {
	c := NewCapabilities(nil)
	require.NoError(t, c.RegisterSelector("list", func(*Env) (any, error) { return []any{"a", nil, "b"}, nil }))
	require.NoError(t, c.RegisterSelector("strings", func(*Env) (any, error) { return []string{"x"}, nil }))
	require.NoError(t, c.RegisterSelector("none", func(*Env) (any, error) { return nil, nil }))
	require.NoError(t, c.RegisterSelector("fails", func(*Env) (any, error) { return nil, errors.New("boom") }))

	env := testEnv("X", nil)
	assert.Equal(t, []any{"a", "b"}, Apply(Selector("list"), env, c))
	assert.Equal(t, []any{"x"}, Apply(Selector("strings"), env, c))
	assert.Nil(t, Apply(Selector("none"), env, c))
	assert.Nil(t, Apply(Selector("fails"), env, c))
}

func TestApply_ValidateAndFormat(t *testing.T) {
	c := NewCapabilities(nil)
	require.NoError(t, c.RegisterValidator("keep", func(*Env) bool { return true }))
	require.NoError(t, c.RegisterValidator("drop", func(*Env) bool { return false }))
	require.NoError(t, c.RegisterFormatter("upper", func(raw any, _ *Env) (any, error) {
		return strings.ToUpper(raw.(string)), nil
	}))
	require.NoError(t, c.RegisterFormatter("split", func(raw any, _ *Env) (any, error) {
		return []any{raw, raw}, nil
	}))
	require.NoError(t, c.RegisterFormatter("fails", func(any, *Env) (any, error) {
		return nil, errors.New("boom")
	}))

	env := testEnv("X", inputs("text", "cat"))
	assert.Equal(t, []any{"CAT"}, Apply(Field("text").WithValidate("keep").WithFormat("upper"), env, c))
	assert.Nil(t, Apply(Field("text").WithValidate("drop").WithFormat("upper"), env, c))
	assert.Equal(t, []any{"cat", "cat"}, Apply(Field("text").WithFormat("split"), env, c))
	assert.Nil(t, Apply(Field("text").WithFormat("fails"), env, c))
}

func TestApply_MissingCapabilityWarnsOncePerPass(t *testing.T) {
	var buf bytes.Buffer
	env := testEnv("X", inputs("text", "cat"))
	env.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	c := NewCapabilities(nil)
	for i := 0; i < 3; i++ {
		assert.Nil(t, Apply(Field("text").WithValidate("ghost"), env, c))
	}
	assert.Nil(t, Apply(Field("text").WithFormat("ghost"), env, c))
	assert.Nil(t, Apply(Selector("ghost"), env, c))

	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, "capability not registered"))
	assert.Contains(t, out, "kind=validator")
	assert.Contains(t, out, "kind=formatter")
	assert.Contains(t, out, "kind=selector")
}

func TestReadSimple(t *testing.T) {
	data := inputs("steps", 20.0, "start", "None")
	v, ok := ReadSimple(Field("steps"), data)
	require.True(t, ok)
	assert.Equal(t, 20.0, v)

	v, ok = ReadSimple(Value(5), data)
	require.True(t, ok)
	assert.Equal(t, 5, v)

	_, ok = ReadSimple(Fields("start"), data)
	assert.False(t, ok)
	_, ok = ReadSimple(Selector("x"), data)
	assert.False(t, ok)
}

// --- run cache ---

func TestRunCache(t *testing.T) {
	c := NewRunCache()
	calls := 0
	compute := func() any { calls++; return calls }

	assert.Equal(t, 1, c.GetOrCompute("ns", "1", "text", compute))
	assert.Equal(t, 1, c.GetOrCompute("ns", "1", "text", compute))
	// A changed text snapshot is a different entry.
	assert.Equal(t, 2, c.GetOrCompute("ns", "1", "text v2", compute))
	assert.Equal(t, 3, c.GetOrCompute("other", "1", "text", compute))
	assert.Equal(t, 3, c.Len())

	assert.True(t, c.WarnOnce("k"))
	assert.False(t, c.WarnOnce("k"))
}

func TestRunCache_Nil(t *testing.T) {
	var c *RunCache
	calls := 0
	compute := func() any { calls++; return calls }

	assert.Equal(t, 1, c.GetOrCompute("ns", "1", "t", compute))
	assert.Equal(t, 2, c.GetOrCompute("ns", "1", "t", compute))
	_, ok := c.Get("ns", "1", "t")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.True(t, c.WarnOnce("k"))
	assert.True(t, c.WarnOnce("k"))
}

func TestJoinSampler(t *testing.T) {
	tests := []struct{ name, scheduler, want string }{
		{"euler", "karras", "euler_karras"},
		{"euler", "normal", "euler"},
		{"euler", "", "euler"},
		{"euler_karras", "karras", "euler_karras"},
		{"dpmpp_2m", " exponential ", "dpmpp_2m_exponential"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JoinSampler(tt.name, tt.scheduler))
	}
}
