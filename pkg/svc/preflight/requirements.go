package preflight

// DefaultRequirements returns the tool set the lifecycle engine depends on.
// The minimum versions track what the managed platform's dev profile supports.
func DefaultRequirements() []Requirement {
	return []Requirement{
		{
			Name:        "docker",
			MinVersion:  "24.0.0",
			VersionArgs: []string{"version", "--format", "{{.Client.Version}}"},
			Hints: map[string]string{
				"darwin":  "https://docs.docker.com/desktop/install/mac-install/",
				"linux":   "https://docs.docker.com/engine/install/",
				"windows": "https://docs.docker.com/desktop/install/windows-install/",
			},
		},
		{
			Name:        "kubectl",
			MinVersion:  "1.28.0",
			VersionArgs: []string{"version", "--client", "--output=yaml"},
			Hints: map[string]string{
				"darwin":  "brew install kubectl",
				"linux":   "https://kubernetes.io/docs/tasks/tools/install-kubectl-linux/",
				"windows": "choco install kubernetes-cli",
			},
		},
		{
			Name:        "helm",
			MinVersion:  "3.14.0",
			VersionArgs: []string{"version", "--short"},
			Hints: map[string]string{
				"darwin":  "brew install helm",
				"linux":   "https://helm.sh/docs/intro/install/",
				"windows": "choco install kubernetes-helm",
			},
		},
		{
			Name:        "kind",
			MinVersion:  "0.23.0",
			VersionArgs: []string{"version"},
			Hints: map[string]string{
				"darwin":  "brew install kind",
				"linux":   "https://kind.sigs.k8s.io/docs/user/quick-start/#installation",
				"windows": "choco install kind",
			},
		},
	}
}
