package collector

import "testing"

func TestPrimaryCgroupPathUnifiedHierarchy(t *testing.T) {
	cgroup := "0::/user.slice/user-1000.slice/session-3.scope\n"
	if got := primaryCgroupPath(cgroup); got != "/user.slice/user-1000.slice/session-3.scope" {
		t.Fatalf("primaryCgroupPath = %q", got)
	}
}

func TestPrimaryCgroupPathEmpty(t *testing.T) {
	if got := primaryCgroupPath(""); got != "" {
		t.Fatalf("primaryCgroupPath(\"\") = %q, want empty", got)
	}
}

func TestAttributeSupervisorSystemdUnit(t *testing.T) {
	cgroup := "0::/system.slice/sshd.service\n"
	sup := attributeSupervisor(cgroup)
	if sup == nil || sup.SystemdUnit != "sshd.service" {
		t.Fatalf("attributeSupervisor = %+v, want sshd.service", sup)
	}
}

func TestAttributeSupervisorContainerID(t *testing.T) {
	id := "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456a"
	cgroup := "0::/docker/" + id + "\n"
	sup := attributeSupervisor(cgroup)
	if sup == nil || sup.ContainerID != id[:12] {
		t.Fatalf("attributeSupervisor = %+v, want container %s", sup, id[:12])
	}
}

func TestAttributeSupervisorNone(t *testing.T) {
	if sup := attributeSupervisor("0::/user.slice\n"); sup != nil {
		t.Fatalf("attributeSupervisor = %+v, want nil", sup)
	}
}

func TestCountWriteFDsExcludesNonFileTargets(t *testing.T) {
	targets := map[string]string{
		"0": "socket:[12345]",
		"1": "pipe:[6789]",
		"2": "anon_inode:[eventpoll]",
		"3": "/var/log/app.log",
		"4": "/tmp/scratch",
	}
	if got := countWriteFDs(targets); got != 2 {
		t.Fatalf("countWriteFDs = %d, want 2", got)
	}
}

func TestClassifyCwd(t *testing.T) {
	cases := map[string]CwdKind{
		"/tmp/foo":           CwdTmp,
		"/var/tmp/foo":       CwdTmp,
		"/home/alice/proj":   CwdHome,
		"/usr/local/bin":     CwdSystem,
		"/opt/app":           CwdProject,
		"":                   CwdUnknown,
	}
	for cwd, want := range cases {
		if got := classifyCwd(cwd); got != want {
			t.Errorf("classifyCwd(%q) = %q, want %q", cwd, got, want)
		}
	}
}
