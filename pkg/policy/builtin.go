package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		partNamingPolicy(),
		reservedEnvironmentPolicy(),
		selfDependencyPolicy(),
		devmodeGradePolicy(),
	}
}

// partNamingPolicy enforces part naming conventions.
func partNamingPolicy() Policy {
	return Policy{
		Name:        "part-naming",
		Description: "Part names are lowercase, start with a letter or digit and are not reserved",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package partcraft.policies.naming

import rego.v1

reserved_names := {"plugins"}

deny contains violation if {
	some part in input.parts
	not regex.match("^[a-z0-9][a-z0-9+-]*$", part.name)
	violation := {
		"message": sprintf("part name '%s' must contain only lowercase letters, digits, '+' and '-', and start with a letter or digit", [part.name]),
		"part": part.name,
	}
}

deny contains violation if {
	some part in input.parts
	reserved_names[part.name]
	violation := {
		"message": sprintf("part name '%s' is reserved", [part.name]),
		"part": part.name,
	}
}

deny contains violation if {
	some part in input.parts
	endswith(part.name, "-")
	violation := {
		"message": sprintf("part name '%s' must not end with a hyphen", [part.name]),
		"part": part.name,
	}
}`,
	}
}

// reservedEnvironmentPolicy warns when a part overrides a variable the
// build environment already defines.
func reservedEnvironmentPolicy() Policy {
	return Policy{
		Name:        "reserved-environment",
		Description: "Warns when build-environment redefines a SNAPCRAFT_* variable",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"environment"},
		Rego: `package partcraft.policies.environment

import rego.v1

deny contains violation if {
	some part in input.parts
	some entry in part.environment
	startswith(entry.name, "SNAPCRAFT_")
	violation := {
		"message": sprintf("part '%s' overrides %s, which the build environment already defines", [part.name, entry.name]),
		"part": part.name,
	}
}`,
	}
}

// selfDependencyPolicy rejects parts that list themselves in after.
func selfDependencyPolicy() Policy {
	return Policy{
		Name:        "self-dependency",
		Description: "A part cannot be built after itself",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"dependencies"},
		Rego: `package partcraft.policies.dependencies

import rego.v1

deny contains violation if {
	some part in input.parts
	some dep in part.after
	dep == part.name
	violation := {
		"message": sprintf("part '%s' lists itself in 'after'", [part.name]),
		"part": part.name,
	}
}`,
	}
}

// devmodeGradePolicy rejects stable releases built with devmode
// confinement.
func devmodeGradePolicy() Policy {
	return Policy{
		Name:        "devmode-grade",
		Description: "Grade 'stable' cannot be combined with devmode confinement",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"release"},
		Rego: `package partcraft.policies.grade

import rego.v1

deny contains violation if {
	input.manifest.grade == "stable"
	input.manifest.confinement == "devmode"
	violation := {
		"message": "grade 'stable' cannot be used with devmode confinement; use grade 'devel'",
	}
}`,
	}
}
