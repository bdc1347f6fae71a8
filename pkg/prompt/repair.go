package prompt

import "fmt"

// RepairRequest asks the model to fix a script that failed in the engine.
// The instruction, script and diagnostic are included verbatim.
func RepairRequest(instruction, script, diagnostic string) string {
	return fmt.Sprintf(`I want to make the following part using FreeCAD 1.0.1 python scripting

%s

The following FreeCAD script was created but it failed during execution:

%s

Here is the error log:
%s

Please provide a corrected FreeCAD script. Keep the logic same, just correct the given error. Respond with valid FreeCAD 1.0.1 Python code only, no extra comments.`,
		instruction, script, diagnostic)
}
