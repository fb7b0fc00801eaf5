package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

func smells(m dsl.Matcher) {
	// Two guards returning the same value can be merged:
	//   if a { return err }
	//   if b { return err }
	// => if a || b { return err }
	m.Match(`if $c1 { return $ret }; if $c2 { return $ret }`).
		Report(`two consecutive guards return the same value; consider merging conditions with ||`).
		Suggest(`if $c1 || $c2 { return $ret }`)

	m.Match(`if $c1 { continue }; if $c2 { continue }`).
		Report(`two consecutive continues; consider merging conditions with ||`).
		Suggest(`if $c1 || $c2 { continue }`)

	m.Match(`for $*_ { for $*_ { $*_ } }`).
		Report(`nested for-loop; consider extracting inner loop logic or reducing algorithmic complexity`)
}

func errorWrapping(m dsl.Matcher) {
	m.Match(`errors.New(fmt.Sprintf($*args))`).
		Report(`use fmt.Errorf instead of errors.New(fmt.Sprintf(...))`).
		Suggest(`fmt.Errorf($args)`)

	// Causes must stay reachable through errors.Is / errors.As.
	m.Match(`fmt.Errorf($f, $*_, $err)`).
		Where(m["err"].Type.Is(`error`) && m["f"].Text.Matches(`%v"$`)).
		Report(`wrap the cause with %w instead of %v`)
}

func fileWrites(m dsl.Matcher) {
	// Only the patch engine and the journal write working-tree files, so
	// every commit passes the checksum check and the journal hook.
	m.Match(`os.WriteFile($*_)`, `os.Remove($*_)`, `os.Rename($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/(api|toolserver|domain/(llm|devorch))$`)).
		Report(`write files through apply.Diff or the journal, not directly`)
}
