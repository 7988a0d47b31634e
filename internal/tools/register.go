package tools

import (
	"github.com/xonecas/symb/internal/shell"
	"github.com/xonecas/symb/internal/store"
)

// RegisterCore registers every core tool handler from spec.md §4.H onto
// reg: read, write, edit, grep, glob, bash, web_fetch, and AskUserQuestion
// (definition only — see ask_user_question.go).
func RegisterCore(reg *Registry, sh *shell.Shell, cache *store.Cache) {
	reg.Register(ReadDefinition(), ReadHandler)
	reg.Register(WriteDefinition(), WriteHandler)
	reg.Register(EditDefinition(), EditHandler)
	reg.Register(GrepDefinition(), GrepHandler)
	reg.Register(GlobDefinition(), GlobHandler)
	reg.Register(BashDefinition(), MakeBashHandler(sh))
	reg.Register(WebFetchDefinition(), MakeWebFetchHandler(cache))
	reg.Register(AskUserQuestionDefinition(), AskUserQuestionHandler)
}
