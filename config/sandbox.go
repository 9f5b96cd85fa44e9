package config

import (
	"os"
	"strings"
)

// DisableSandboxEnv lets an operator force reduced isolation.
const DisableSandboxEnv = "TEXENGINE_DISABLE_SANDBOX"

// Sandbox is the result of the one-time environment probe.
type Sandbox struct {
	Disabled bool
	Reason   string
}

// Probe holds the host accessors the detection reads. Zero fields fall back to the os package.
type Probe struct {
	LookupEnv func(string) (string, bool)
	ReadFile  func(string) ([]byte, error)
	Exists    func(string) bool
}

// DetectSandbox reports whether process-group isolation must be skipped on this host:
// WSL, containers, Flatpak/Snap, or kernels that restrict unprivileged namespaces.
// It is meant to run once in main; the pipeline never calls it.
func DetectSandbox() Sandbox {
	return Probe{}.Detect()
}

func (p Probe) Detect() Sandbox {
	p = p.withDefaults()

	if _, ok := p.LookupEnv("WSL_INTEROP"); ok {
		return Sandbox{Disabled: true, Reason: "WSL detected"}
	}

	for _, marker := range []string{"/run/.containerenv", "/.dockerenv", "/.flatpak-info"} {
		if p.Exists(marker) {
			return Sandbox{Disabled: true, Reason: "container marker " + marker}
		}
	}

	if _, ok := p.LookupEnv("SNAP"); ok {
		return Sandbox{Disabled: true, Reason: "snap environment"}
	}

	if v, ok := p.LookupEnv(DisableSandboxEnv); ok && v != "" && v != "0" && !strings.EqualFold(v, "false") {
		return Sandbox{Disabled: true, Reason: DisableSandboxEnv + " set"}
	}

	if b, err := p.ReadFile("/proc/version"); err == nil {
		v := strings.ToLower(string(b))
		if strings.Contains(v, "microsoft") || strings.Contains(v, "wsl") {
			return Sandbox{Disabled: true, Reason: "/proc/version indicates WSL"}
		}
	}

	if b, err := p.ReadFile("/proc/sys/kernel/unprivileged_userns_clone"); err == nil && strings.TrimSpace(string(b)) == "0" {
		return Sandbox{Disabled: true, Reason: "unprivileged user namespaces disabled"}
	}

	if b, err := p.ReadFile("/proc/sys/kernel/apparmor_restrict_unprivileged_userns"); err == nil && strings.TrimSpace(string(b)) == "1" {
		return Sandbox{Disabled: true, Reason: "apparmor restricts unprivileged user namespaces"}
	}

	if b, err := p.ReadFile("/proc/1/cgroup"); err == nil {
		c := string(b)
		if strings.Contains(c, "docker") || strings.Contains(c, "kubepods") || strings.Contains(c, "lxc") {
			return Sandbox{Disabled: true, Reason: "cgroups indicate a container"}
		}
	}

	return Sandbox{}
}

func (p Probe) withDefaults() Probe {
	if p.LookupEnv == nil {
		p.LookupEnv = os.LookupEnv
	}
	if p.ReadFile == nil {
		p.ReadFile = os.ReadFile
	}
	if p.Exists == nil {
		p.Exists = func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		}
	}
	return p
}
