package api

type Action int

const (
	ActionRunInstances Action = iota + 1
	ActionDescribeInstances
	ActionStopInstances
	ActionStartInstances
	ActionTerminateInstances
	ActionDescribeInstanceAttribute
	ActionModifyInstanceAttribute
	ActionResetInstanceAttribute
	ActionGetPasswordData
	ActionGetConsoleOutput
	ActionDescribeVolumes
)

var actionNames = map[Action]string{
	ActionRunInstances:              "RunInstances",
	ActionDescribeInstances:         "DescribeInstances",
	ActionStopInstances:             "StopInstances",
	ActionStartInstances:            "StartInstances",
	ActionTerminateInstances:        "TerminateInstances",
	ActionDescribeInstanceAttribute: "DescribeInstanceAttribute",
	ActionModifyInstanceAttribute:   "ModifyInstanceAttribute",
	ActionResetInstanceAttribute:    "ResetInstanceAttribute",
	ActionGetPasswordData:           "GetPasswordData",
	ActionGetConsoleOutput:          "GetConsoleOutput",
	ActionDescribeVolumes:           "DescribeVolumes",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "Unknown"
}

type Request interface {
	Action() Action
}

type Response any

type CommonRequest struct {
	Action      string `url:"Action" validate:"required"`
	Version     string `url:"Version"`
	ClientToken string `url:"ClientToken"`
}

type DryRunnableRequest struct {
	DryRun bool `url:"DryRun"`
}

// IsDryRun reports whether the request only asks for a permission check
func IsDryRun(req Request) bool {
	type dryRunner interface {
		dryRun() bool
	}
	if d, ok := req.(dryRunner); ok {
		return d.dryRun()
	}
	return false
}

func (r DryRunnableRequest) dryRun() bool { return r.DryRun }

type Filter struct {
	Name   *string  `url:"Name"`
	Values []string `url:"Value"`
}
