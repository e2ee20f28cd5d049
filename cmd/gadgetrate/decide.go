package main

// decide maps the recorded rate and a requested rate (0 = stop) to the
// actions the executor has to take.
//
//	current  new            kill   start
//	0        0              no     no
//	0        >0             no     yes
//	>0       same           no     no
//	>0       different/0    yes    new > 0
func decide(current, next int) (kill, start bool) {
	kill = current > 0 && current != next
	start = next > 0 && (current == 0 || kill)
	return kill, start
}
