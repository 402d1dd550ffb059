package policy

// BuiltinRules returns the guard rules every plan is checked against.
func BuiltinRules() []Rule {
	return []Rule{
		filesystemOwnershipRule(),
		worldWritableRule(),
		templateExpectationsRule(),
		restartSupportRule(),
		unguardedExecuteRule(),
	}
}

// filesystemOwnershipRule requires owner, group and mode on files and directories.
func filesystemOwnershipRule() Rule {
	return Rule{
		Name:        "filesystem-ownership",
		Description: "Directories and templates must declare owner, group and mode",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"filesystem"},
		Rego: `package cookbooks.guard.ownership

import rego.v1

filesystem := {"directory", "template"}

deny contains violation if {
	some intent in input.plan.intents
	intent.kind in filesystem
	some field in ["owner", "group", "mode"]
	not intent[field]
	key := sprintf("%s[%s]", [intent.kind, intent.name])
	violation := {
		"message": sprintf("%s must declare %s", [key, field]),
		"intent": key,
	}
}

deny contains violation if {
	some intent in input.plan.intents
	intent.kind in filesystem
	intent.mode
	not regex.match("^0?[0-7]{3}$", intent.mode)
	key := sprintf("%s[%s]", [intent.kind, intent.name])
	violation := {
		"message": sprintf("%s has malformed mode %q", [key, intent.mode]),
		"intent": key,
	}
}
`,
	}
}

// worldWritableRule rejects world-writable files and directories.
func worldWritableRule() Rule {
	return Rule{
		Name:        "world-writable",
		Description: "Files and directories must not be writable by others",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"filesystem", "security"},
		Rego: `package cookbooks.guard.permissions

import rego.v1

deny contains violation if {
	some intent in input.plan.intents
	intent.kind in {"directory", "template"}
	regex.match("[2367]$", intent.mode)
	key := sprintf("%s[%s]", [intent.kind, intent.name])
	violation := {
		"message": sprintf("%s is world-writable (mode %s)", [key, intent.mode]),
		"intent": key,
	}
}
`,
	}
}

// templateExpectationsRule checks rendered content contains every expected line.
func templateExpectationsRule() Rule {
	return Rule{
		Name:        "template-expectations",
		Description: "Rendered templates must contain their expected substrings",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"templates"},
		Rego: `package cookbooks.guard.templates

import rego.v1

deny contains violation if {
	some intent in input.plan.intents
	intent.kind == "template"
	some expected in intent.expect
	not contains(object.get(intent, "content", ""), expected)
	key := sprintf("template[%s]", [intent.name])
	violation := {
		"message": sprintf("%s does not contain %q", [key, expected]),
		"intent": key,
	}
}

deny contains violation if {
	some intent in input.plan.intents
	intent.kind == "template"
	not intent.checksum
	key := sprintf("template[%s]", [intent.name])
	violation := {
		"message": sprintf("%s has no checksum", [key]),
		"intent": key,
	}
}
`,
	}
}

// restartSupportRule warns when a service is restarted without declaring support for it.
func restartSupportRule() Rule {
	return Rule{
		Name:        "restart-support",
		Description: "Notified services should declare support for the notified action",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"services"},
		Rego: `package cookbooks.guard.services

import rego.v1

deny contains violation if {
	some edge in input.plan.notifications
	edge.action in {"restart", "reload"}
	some intent in input.plan.intents
	sprintf("%s[%s]", [intent.kind, intent.name]) == edge.target
	not edge.action in object.get(intent, "supports", [])
	violation := {
		"message": sprintf("%s is notified to %s but does not declare support for it", [edge.target, edge.action]),
		"intent": edge.target,
	}
}
`,
	}
}

// unguardedExecuteRule flags commands that run on every convergence.
func unguardedExecuteRule() Rule {
	return Rule{
		Name:        "unguarded-execute",
		Description: "Executes that always run should declare creates or be notification-only",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"idempotence"},
		Rego: `package cookbooks.guard.executes

import rego.v1

deny contains violation if {
	some intent in input.plan.intents
	intent.kind == "execute"
	"run" in intent.actions
	not intent.creates
	key := sprintf("execute[%s]", [intent.name])
	violation := {
		"message": sprintf("%s runs on every convergence", [key]),
		"intent": key,
	}
}
`,
	}
}
