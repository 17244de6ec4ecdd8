package main

import (
	"strings"
	"testing"
)

func lintString(t *testing.T, l *linter, name, src string) {
	t.Helper()
	if err := l.lintSource(name, []byte(src)); err != nil {
		t.Fatalf("lintSource(%s): %v", name, err)
	}
}

func TestLintAcceptsMarkedQueries(t *testing.T) {
	l := newLinter()
	lintString(t, l, "ok.go", "package q\n\nconst QOne = `--sql 6f19b92f-0142-42f2-857f-d45cecc4baab\nselect 1;\n`\n\nconst Greeting = \"hello\"\n")
	if len(l.violations) != 0 {
		t.Fatalf("violations = %+v", l.violations)
	}
}

func TestLintFlagsMissingMarker(t *testing.T) {
	l := newLinter()
	lintString(t, l, "bad.go", "package q\n\nconst QBad = `select * from jobs`\n")
	if len(l.violations) != 1 || l.violations[0].name != "QBad" || l.violations[0].line != 3 {
		t.Fatalf("violations = %+v", l.violations)
	}
}

func TestLintFoldsConcatenatedLiterals(t *testing.T) {
	l := newLinter()
	lintString(t, l, "concat.go", "package q\n\nconst QJoined = \"update jobs \" +\n\t\"set status = 'FAILED'\"\n")
	if len(l.violations) != 1 || l.violations[0].name != "QJoined" {
		t.Fatalf("violations = %+v", l.violations)
	}
}

func TestLintFlagsDuplicateMarkers(t *testing.T) {
	l := newLinter()
	query := "`--sql 9cf9e6ed-4006-4583-88b3-df576daa57cf\nselect 1;\n`"
	lintString(t, l, "a.go", "package q\n\nconst QA = "+query+"\n")
	lintString(t, l, "b.go", "package q\n\nconst QB = "+query+"\n")
	if len(l.violations) != 1 || !strings.Contains(l.violations[0].message, "a.go:3") {
		t.Fatalf("violations = %+v", l.violations)
	}
}
