package assistant

import "fmt"

func generatePrompt(lang, task string) string {
	return fmt.Sprintf("Write %[1]s code for the following task. Provide ONLY the raw %[1]s code "+
		"without markdown backticks or explanations unless comments in the code. Task: %[2]s", lang, task)
}

func explainPrompt(lang, source string) string {
	return fmt.Sprintf("Explain the following %s code in simple terms for a developer:\n\n%s", lang, source)
}

func autofixPrompt(lang, source, diagnostic string) string {
	return fmt.Sprintf(`I have the following %[1]s code that produced an error.
CODE:
%[2]s

ERROR:
%[3]s

Please fix the code.
1. Explain what caused the error.
2. Provide the corrected code.

Return the response in this exact format:
%[4]s
(Explanation here)
%[5]s
(Only the fixed %[1]s code here, no markdown backticks)
`, lang, source, diagnostic, ExplanationMarker, CodeMarker)
}
