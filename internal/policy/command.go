package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/moonbotio/moonbot/internal/moonerr"
)

// DefaultAllowedCommands is the argv[0] allowlist for the non-raw-shell
// invocation form. Raw-shell form (CommandGuard.CheckRaw) always requires
// approval regardless of argv[0].
var DefaultAllowedCommands = map[string]bool{
	"ls": true, "cat": true, "echo": true, "pwd": true, "head": true, "tail": true,
	"grep": true, "rg": true, "find": true, "wc": true, "sort": true, "uniq": true,
	"diff": true, "git": true, "go": true, "npm": true, "npx": true, "node": true,
	"python": true, "python3": true, "make": true, "tar": true, "gzip": true,
}

// defaultDenyPatterns mirrors the teacher's exec-tool deny list: a
// defense-in-depth denylist covering destructive file ops, data
// exfiltration, reverse shells, eval/injection, privilege escalation,
// dangerous path operations, env-var injection, container escape, crypto
// mining, filter-bypass techniques, recon tooling, persistence, process
// manipulation, and env dumping.
var defaultDenyPatterns = []*regexp.Regexp{
	// destructive file operations
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\brm\s+.*--recursive`),
	regexp.MustCompile(`\brm\s+.*--force`),
	regexp.MustCompile(`\bdel\s+/[fq]\b`),
	regexp.MustCompile(`\brmdir\s+/s\b`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b|\bformat\s`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb

	// data exfiltration
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bcurl\b.*(-d\b|-F\b|--data|--upload|--form|-T\b|-X\s*P(UT|OST|ATCH))`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*--post-(data|file)`),
	regexp.MustCompile(`\b(nslookup|dig|host)\b`),
	regexp.MustCompile(`/dev/tcp/`),

	// reverse shells
	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`\bsocat\b`),
	regexp.MustCompile(`\bopenssl\b.*s_client`),
	regexp.MustCompile(`\btelnet\b.*\d+`),
	regexp.MustCompile(`\bpython[23]?\b.*\bimport\s+(socket|http\.client|urllib|requests)\b`),
	regexp.MustCompile(`\bperl\b.*-e\s*.*\b[Ss]ocket\b`),
	regexp.MustCompile(`\bruby\b.*-e\s*.*\b(TCPSocket|Socket)\b`),
	regexp.MustCompile(`\bnode\b.*-e\s*.*\b(net\.connect|child_process)\b`),
	regexp.MustCompile(`\bawk\b.*/inet/`),
	regexp.MustCompile(`\bmkfifo\b`),

	// eval / code injection
	regexp.MustCompile(`\beval\s*\$`),
	regexp.MustCompile(`\bbase64\s+-d\b.*\|\s*(ba)?sh\b`),

	// privilege escalation
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\s+-`),
	regexp.MustCompile(`\bnsenter\b`),
	regexp.MustCompile(`\bunshare\b`),
	regexp.MustCompile(`\b(mount|umount)\b`),
	regexp.MustCompile(`\b(capsh|setcap|getcap)\b`),

	// dangerous path operations
	regexp.MustCompile(`\bchmod\s+[0-7]{3,4}\s+/`),
	regexp.MustCompile(`\bchown\b.*\s+/`),
	regexp.MustCompile(`\bchmod\b.*\+x.*/tmp/`),
	regexp.MustCompile(`\bchmod\b.*\+x.*/var/tmp/`),
	regexp.MustCompile(`\bchmod\b.*\+x.*/dev/shm/`),

	// environment variable injection
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`\bDYLD_INSERT_LIBRARIES\s*=`),
	regexp.MustCompile(`\bLD_LIBRARY_PATH\s*=`),
	regexp.MustCompile(`/etc/ld\.so\.preload`),
	regexp.MustCompile(`\bGIT_EXTERNAL_DIFF\s*=`),
	regexp.MustCompile(`\bGIT_DIFF_OPTS\s*=`),
	regexp.MustCompile(`\bBASH_ENV\s*=`),
	regexp.MustCompile(`\bENV\s*=.*\bsh\b`),

	// container escape
	regexp.MustCompile(`/var/run/docker\.sock|docker\.(sock|socket)`),
	regexp.MustCompile(`/proc/sys/(kernel|fs|net)/`),
	regexp.MustCompile(`/sys/(kernel|fs|class|devices)/`),

	// crypto mining
	regexp.MustCompile(`\b(xmrig|cpuminer|minerd|cgminer|bfgminer|ethminer|nbminer|t-rex|phoenixminer|lolminer|gminer|claymore)\b`),
	regexp.MustCompile(`stratum\+tcp://|stratum\+ssl://`),

	// filter bypass
	regexp.MustCompile(`\bsed\b.*['"]/e\b`),
	regexp.MustCompile(`\bsort\b.*--compress-program`),
	regexp.MustCompile(`\bgit\b.*(--upload-pack|--receive-pack|--exec)=`),
	regexp.MustCompile(`\b(rg|grep)\b.*--pre=`),
	regexp.MustCompile(`\bman\b.*--html=`),
	regexp.MustCompile(`\bhistory\b.*-[saw]\b`),
	regexp.MustCompile(`\$\{[^}]*@[PpEeAaKk]\}`),

	// network reconnaissance
	regexp.MustCompile(`\b(nmap|masscan|zmap|rustscan)\b`),
	regexp.MustCompile(`\b(ssh|scp|sftp)\b.*@`),
	regexp.MustCompile(`\b(chisel|frp|ngrok|cloudflared|bore|localtunnel)\b`),

	// persistence
	regexp.MustCompile(`\bcrontab\b`),
	regexp.MustCompile(`>\s*~/?\.(bashrc|bash_profile|profile|zshrc)`),
	regexp.MustCompile(`\btee\b.*\.(bashrc|bash_profile|profile|zshrc)`),

	// process manipulation
	regexp.MustCompile(`\bkill\s+-9\s`),
	regexp.MustCompile(`\b(killall|pkill)\b`),

	// environment variable dumping
	regexp.MustCompile(`^\s*env\s*$`),
	regexp.MustCompile(`^\s*env\s*\|`),
	regexp.MustCompile(`^\s*env\s*>\s`),
	regexp.MustCompile(`\bprintenv\b`),
	regexp.MustCompile(`^\s*(set|export\s+-p|declare\s+-x)\s*($|\|)`),
	regexp.MustCompile(`\bcompgen\s+-e\b`),
}

// shellMeta matches shell metacharacters outside of quoted regions, used to
// reject raw-shell forms that try to smuggle extra commands.
var shellMeta = regexp.MustCompile("[;&|`$(){}<>]")

// CommandGuard gates process-launch tool invocations.
type CommandGuard struct {
	allowed map[string]bool
	deny    []*regexp.Regexp
}

// NewCommandGuard builds a guard with the given argv[0] allowlist. A nil
// allowlist uses DefaultAllowedCommands.
func NewCommandGuard(allowed map[string]bool) *CommandGuard {
	if allowed == nil {
		allowed = DefaultAllowedCommands
	}
	return &CommandGuard{allowed: allowed, deny: defaultDenyPatterns}
}

// CheckArgv admits argv only if argv[0] is allowlisted and the full
// concatenation matches no denylist pattern.
func (g *CommandGuard) CheckArgv(argv []string) error {
	if len(argv) == 0 {
		return moonerr.New(moonerr.InvalidInput, "empty command")
	}
	if !g.allowed[argv[0]] {
		return moonerr.New(moonerr.CommandBlocked, fmt.Sprintf("command %q is not allowlisted", argv[0]))
	}
	return g.checkDenyPatterns(strings.Join(argv, " "))
}

// CheckRaw gates a raw shell string. Raw-shell invocations always require
// approval (the caller is responsible for routing through the Approval
// Flow) and are additionally rejected outright if they contain shell
// metacharacters outside quoted regions, since those defeat argv-level
// allowlisting entirely.
func (g *CommandGuard) CheckRaw(command string) error {
	if strings.TrimSpace(command) == "" {
		return moonerr.New(moonerr.InvalidInput, "empty command")
	}
	if hasUnquotedMetacharacters(command) {
		return moonerr.New(moonerr.CommandBlocked, "shell metacharacters not allowed outside quoted regions")
	}
	return g.checkDenyPatterns(command)
}

func (g *CommandGuard) checkDenyPatterns(command string) error {
	for _, pattern := range g.deny {
		if pattern.MatchString(command) {
			return moonerr.New(moonerr.CommandBlocked, "command matches a denied pattern")
		}
	}
	return nil
}

// hasUnquotedMetacharacters reports whether s contains a shell
// metacharacter that is not inside a single- or double-quoted region.
func hasUnquotedMetacharacters(s string) bool {
	var inSingle, inDouble bool
	for _, r := range s {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case !inSingle && !inDouble && shellMeta.MatchString(string(r)):
			return true
		}
	}
	return false
}
