package turn

import "testing"

func TestSanitize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text untouched",
			in:   "The video covers attention mechanisms.",
			want: "The video covers attention mechanisms.",
		},
		{
			name: "fenced block stripped",
			in:   "Here is the answer.\n```python\nprint('hi')\n```\nDone.",
			want: "Here is the answer.\n\nDone.",
		},
		{
			name: "dangling fence stripped",
			in:   "Answer first.\n```json\n{\"partial\": true",
			want: "Answer first.",
		},
		{
			name: "tool markers removed",
			in:   "Before <tool_call>search(\"x\")</tool_call> after",
			want: "Before  after",
		},
		{
			name: "blank runs collapsed",
			in:   "one\n\n\n\n\ntwo",
			want: "one\n\ntwo",
		},
		{
			name: "empty stays empty",
			in:   "",
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Sanitize(tc.in); got != tc.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
