package model

// Classification is the equipment classification of an asset.
type Classification string

const (
	ClassThreadPlug         Classification = "thread_plug"
	ClassThreadRing         Classification = "thread_ring"
	ClassPlainPlug          Classification = "plain_plug"
	ClassStraightPipeThread Classification = "straight_pipe_thread"
	ClassHandTool           Classification = "hand_tool"
)

// ClassificationRule lists what a classification demands of its assets.
type ClassificationRule struct {
	RequiresThread  bool
	RequiresSuffix  bool
	AllowsCompanion bool
}

var classificationRules = map[Classification]ClassificationRule{
	ClassThreadPlug:         {RequiresThread: true, RequiresSuffix: true, AllowsCompanion: true},
	ClassThreadRing:         {RequiresThread: true, RequiresSuffix: true, AllowsCompanion: true},
	ClassPlainPlug:          {RequiresThread: false, RequiresSuffix: true, AllowsCompanion: true},
	ClassStraightPipeThread: {RequiresThread: true, RequiresSuffix: false, AllowsCompanion: false},
	ClassHandTool:           {},
}

// Rules returns the rule set for c and whether c is known.
func (c Classification) Rules() (ClassificationRule, bool) {
	r, ok := classificationRules[c]
	return r, ok
}

// Classifications lists every known classification in a stable order.
func Classifications() []Classification {
	return []Classification{ClassThreadPlug, ClassThreadRing, ClassPlainPlug, ClassStraightPipeThread, ClassHandTool}
}
