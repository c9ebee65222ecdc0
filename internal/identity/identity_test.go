package identity

import "testing"

func TestStartID(t *testing.T) {
	tp := Tuple{PID: 4242, StartTimeTicks: 1000, BootID: "BOOT"}
	if got, want := tp.StartID(), "BOOT:1000:4242"; got != want {
		t.Fatalf("StartID() = %q, want %q", got, want)
	}
}

func TestSamePIDReuse(t *testing.T) {
	plan := Tuple{PID: 4242, StartTimeTicks: 1000, BootID: "BOOT", UID: 1000, EUID: 1000}
	observed := plan
	observed.StartTimeTicks = 9999

	if Same(plan, observed) {
		t.Fatal("Same() = true for differing start_time_ticks, want false")
	}
	mismatches := Mismatches(plan, observed)
	if len(mismatches) != 1 || mismatches[0] != "start_time_ticks" {
		t.Fatalf("Mismatches() = %v, want [start_time_ticks]", mismatches)
	}
}

func TestSameIgnoresUncapturedOptionalFields(t *testing.T) {
	plan := Tuple{PID: 10, StartTimeTicks: 1, BootID: "B", UID: 0, EUID: 0}
	observed := Tuple{PID: 10, StartTimeTicks: 1, BootID: "B", UID: 0, EUID: 0, ExeInode: 555, ExeDev: 1}

	if !Same(plan, observed) {
		t.Fatal("Same() = false when plan never captured exe identity, want true")
	}
}

func TestSameCatchesExeIdentityMismatch(t *testing.T) {
	plan := Tuple{PID: 10, StartTimeTicks: 1, BootID: "B", ExeInode: 100, ExeDev: 1}
	observed := Tuple{PID: 10, StartTimeTicks: 1, BootID: "B", ExeInode: 200, ExeDev: 1}

	if Same(plan, observed) {
		t.Fatal("Same() = true despite exe_inode mismatch, want false")
	}
}

func TestHashCmdlineDeterministic(t *testing.T) {
	a := HashCmdline([]string{"node", "--jest"})
	b := HashCmdline([]string{"node", "--jest"})
	c := HashCmdline([]string{"node", "--mocha"})
	if a != b {
		t.Fatal("HashCmdline not deterministic")
	}
	if a == c {
		t.Fatal("HashCmdline collided across different argv")
	}
}
