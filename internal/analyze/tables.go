package analyze

import "regexp"

// VulnerablePackage describes one entry of the embedded known-bad table.
// Versions lists exact published-bad releases; Below marks every version
// before it as affected. Either may be empty; both empty means any version.
type VulnerablePackage struct {
	Versions []string
	Below    string
	CVE      string
	Severity Severity
	Note     string
}

// SecretPattern matches one family of hardcoded credentials. The token
// submatch (named "token" when present, else the whole match) must reach
// MinLen, and MinEntropy bits per character when set, before a finding is
// emitted. The gates exist to keep placeholder values out of reports.
type SecretPattern struct {
	Name       string
	Pattern    *regexp.Regexp
	MinLen     int
	MinEntropy float64
	Severity   Severity
}

// PatternRule is a generic content rule. Exts restricts it to files with
// one of the listed extensions (lowercase, with dot); empty means any
// sampled code file.
type PatternRule struct {
	Name        string
	Pattern     *regexp.Regexp
	Severity    Severity
	Description string
	CWE         string
	Exts        []string
}

// Tables bundles every embedded rule set. Built once (DefaultTables) and
// injected into analyzers at construction; never mutated afterwards. Tests
// construct reduced tables to isolate a single rule.
type Tables struct {
	VulnerablePackages map[string]VulnerablePackage
	DeprecatedPackages map[string]string
	PopularPackages    []string
	SecretPatterns     []SecretPattern
	DangerousCalls     []PatternRule
	WeakCrypto         []PatternRule
	InjectionPatterns  []PatternRule
	MemoryPatterns     []PatternRule
	BinaryPenalties    map[string]int
	ManifestLockfiles  map[string][]string
	PopularLicenses    []string
	PermissiveLicenses []string
	ActionMajors       map[string]int
	CodeExtensions     map[string]bool
	ScriptExtensions   map[string]bool
	MaxDirectDeps      int
}

// DefaultTables returns the embedded rule data. All patterns are compiled
// here so a malformed rule fails at startup, not mid-scan.
func DefaultTables() *Tables {
	return &Tables{
		VulnerablePackages: map[string]VulnerablePackage{
			"lodash": {
				Below:    "4.17.21",
				CVE:      "CVE-2021-23337",
				Severity: SeverityHigh,
				Note:     "command injection via template",
			},
			"minimist": {
				Below:    "1.2.6",
				CVE:      "CVE-2021-44906",
				Severity: SeverityCritical,
				Note:     "prototype pollution",
			},
			"axios": {
				Below:    "0.21.3",
				CVE:      "CVE-2021-3749",
				Severity: SeverityHigh,
				Note:     "ReDoS in trim handling",
			},
			"node-ipc": {
				Versions: []string{"10.1.1", "10.1.2", "10.1.3"},
				CVE:      "CVE-2022-23812",
				Severity: SeverityCritical,
				Note:     "destructive sabotaged release",
			},
			"ua-parser-js": {
				Versions: []string{"0.7.29", "0.8.0", "1.0.0"},
				Severity: SeverityCritical,
				Note:     "compromised release with credential stealer",
			},
			"event-stream": {
				Versions: []string{"3.3.6"},
				Severity: SeverityCritical,
				Note:     "malicious flatmap-stream dependency",
			},
			"flatmap-stream": {
				Severity: SeverityCritical,
				Note:     "malicious package, all versions",
			},
			"colors": {
				Versions: []string{"1.4.1", "1.4.2", "1.4.44-liberty-2"},
				Severity: SeverityHigh,
				Note:     "sabotaged release",
			},
			"faker": {
				Versions: []string{"6.6.6"},
				Severity: SeverityHigh,
				Note:     "sabotaged release",
			},
			"pyyaml": {
				Below:    "5.4",
				CVE:      "CVE-2020-14343",
				Severity: SeverityCritical,
				Note:     "arbitrary code execution via full_load",
			},
			"urllib3": {
				Below:    "1.26.5",
				CVE:      "CVE-2021-33503",
				Severity: SeverityHigh,
				Note:     "ReDoS in URL parsing",
			},
			"requests": {
				Below:    "2.20.0",
				CVE:      "CVE-2018-18074",
				Severity: SeverityMedium,
				Note:     "credential leak on redirect",
			},
			"jinja2": {
				Below:    "2.11.3",
				CVE:      "CVE-2020-28493",
				Severity: SeverityMedium,
				Note:     "ReDoS in urlize filter",
			},
		},

		DeprecatedPackages: map[string]string{
			"request":             "use fetch or axios",
			"left-pad":            "use String.prototype.padStart",
			"node-sass":           "use sass",
			"tslint":              "use eslint",
			"istanbul":            "use nyc",
			"babel-preset-es2015": "use @babel/preset-env",
			"gulp-util":           "inline the needed helpers",
			"nose":                "use pytest",
			"pycrypto":            "use pycryptodome",
			"django-rest-swagger": "use drf-spectacular",
		},

		PopularPackages: []string{
			"react", "express", "lodash", "axios", "typescript", "webpack",
			"eslint", "jest", "vue", "angular", "next", "moment", "chalk",
			"commander", "prettier", "vite", "svelte", "request",
			"requests", "numpy", "pandas", "django", "flask", "pytest",
			"urllib3", "boto3", "cryptography", "setuptools", "tensorflow",
		},

		SecretPatterns: []SecretPattern{
			{
				Name:     "aws access key id",
				Pattern:  regexp.MustCompile(`\b(?P<token>AKIA[0-9A-Z]{16})\b`),
				MinLen:   20,
				Severity: SeverityCritical,
			},
			{
				Name:     "aws secret access key",
				Pattern:  regexp.MustCompile(`(?i)aws[_-]?secret[_-]?access[_-]?key\s*[:=]\s*["']?(?P<token>[A-Za-z0-9/+=]{40})`),
				MinLen:   40,
				Severity: SeverityCritical,
			},
			{
				Name:     "github token",
				Pattern:  regexp.MustCompile(`\b(?P<token>gh[pousr]_[A-Za-z0-9]{36,})\b`),
				MinLen:   40,
				Severity: SeverityCritical,
			},
			{
				Name:     "stripe live key",
				Pattern:  regexp.MustCompile(`\b(?P<token>sk_live_[A-Za-z0-9]{16,})\b`),
				MinLen:   24,
				Severity: SeverityCritical,
			},
			{
				Name:     "slack token",
				Pattern:  regexp.MustCompile(`\b(?P<token>xox[baprs]-[A-Za-z0-9-]{10,})\b`),
				MinLen:   14,
				Severity: SeverityHigh,
			},
			{
				Name:     "google api key",
				Pattern:  regexp.MustCompile(`\b(?P<token>AIza[0-9A-Za-z_\-]{35})\b`),
				MinLen:   39,
				Severity: SeverityHigh,
			},
			{
				Name:     "private key block",
				Pattern:  regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY`),
				Severity: SeverityCritical,
			},
			{
				Name:       "generic api token",
				Pattern:    regexp.MustCompile(`(?i)\b(?:api[_-]?key|apikey|access[_-]?token|auth[_-]?token|client[_-]?secret)\s*[:=]\s*["'](?P<token>[A-Za-z0-9_\-]{20,})["']`),
				MinLen:     20,
				MinEntropy: 3.0,
				Severity:   SeverityHigh,
			},
			{
				Name:       "password",
				Pattern:    regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[:=]\s*["'](?P<token>[^"'\s]{8,})["']`),
				MinLen:     8,
				MinEntropy: 2.5,
				Severity:   SeverityHigh,
			},
		},

		DangerousCalls: []PatternRule{
			{
				Name:        "eval call",
				Pattern:     regexp.MustCompile(`\beval\s*\(`),
				Severity:    SeverityCritical,
				Description: "eval() executes arbitrary code",
				CWE:         "CWE-95",
				Exts:        []string{".js", ".jsx", ".ts", ".tsx", ".py", ".php", ".rb"},
			},
			{
				Name:        "dynamic function construction",
				Pattern:     regexp.MustCompile(`\bnew\s+Function\s*\(`),
				Severity:    SeverityHigh,
				Description: "new Function() builds code from strings",
				CWE:         "CWE-95",
				Exts:        []string{".js", ".jsx", ".ts", ".tsx"},
			},
			{
				Name:        "string timer argument",
				Pattern:     regexp.MustCompile(`\b(?:setTimeout|setInterval)\s*\(\s*["']`),
				Severity:    SeverityHigh,
				Description: "timer with a string argument is implicit eval",
				CWE:         "CWE-95",
				Exts:        []string{".js", ".jsx", ".ts", ".tsx"},
			},
			{
				Name:        "shell command execution",
				Pattern:     regexp.MustCompile(`\b(?:child_process\.exec|execSync|os\.system|subprocess\.call|subprocess\.Popen|shell_exec|popen|proc_open)\s*\(`),
				Severity:    SeverityHigh,
				Description: "direct shell command execution",
				CWE:         "CWE-78",
			},
			{
				Name:        "subprocess with shell",
				Pattern:     regexp.MustCompile(`subprocess\.\w+\s*\([^)]*shell\s*=\s*True`),
				Severity:    SeverityHigh,
				Description: "subprocess invoked with shell=True",
				CWE:         "CWE-78",
				Exts:        []string{".py"},
			},
			{
				Name:        "unsafe deserialization",
				Pattern:     regexp.MustCompile(`\b(?:pickle\.loads?|marshal\.loads?|Marshal\.load|unserialize)\s*\(`),
				Severity:    SeverityHigh,
				Description: "deserialization of untrusted data",
				CWE:         "CWE-502",
			},
			{
				Name:        "unsafe yaml load",
				Pattern:     regexp.MustCompile(`\byaml\.load\s*\(`),
				Severity:    SeverityMedium,
				Description: "yaml.load without an explicit safe loader",
				CWE:         "CWE-502",
				Exts:        []string{".py"},
			},
			{
				Name:        "c system call",
				Pattern:     regexp.MustCompile(`\bsystem\s*\(`),
				Severity:    SeverityHigh,
				Description: "system() runs a shell command",
				CWE:         "CWE-78",
				Exts:        []string{".c", ".cc", ".cpp", ".h", ".hpp"},
			},
		},

		WeakCrypto: []PatternRule{
			{
				Name:        "md5 digest",
				Pattern:     regexp.MustCompile(`(?i)(?:\bmd5\s*\(|createHash\s*\(\s*["']md5["']|hashlib\.md5)`),
				Severity:    SeverityMedium,
				Description: "MD5 is broken for security use",
				CWE:         "CWE-328",
			},
			{
				Name:        "sha1 digest",
				Pattern:     regexp.MustCompile(`(?i)(?:\bsha1\s*\(|createHash\s*\(\s*["']sha1["']|hashlib\.sha1)`),
				Severity:    SeverityMedium,
				Description: "SHA-1 is broken for security use",
				CWE:         "CWE-328",
			},
			{
				Name:        "weak cipher",
				Pattern:     regexp.MustCompile(`(?i)(?:createCipheriv?\s*\(\s*["'](?:des|des-ede3|rc4|rc2)|\b(?:DES|DES3|RC4|ARC4|XOR)\.new\s*\()`),
				Severity:    SeverityHigh,
				Description: "weak symmetric cipher",
				CWE:         "CWE-327",
			},
			{
				Name:        "ecb mode",
				Pattern:     regexp.MustCompile(`(?i)(?:MODE_ECB|ECBBlockCipher|/ECB/)`),
				Severity:    SeverityHigh,
				Description: "ECB mode leaks plaintext structure",
				CWE:         "CWE-327",
			},
		},

		InjectionPatterns: []PatternRule{
			{
				Name:        "sql string concatenation",
				Pattern:     regexp.MustCompile(`(?i)["'](?:SELECT|INSERT INTO|UPDATE|DELETE FROM)\b[^"']*["']\s*(?:\+|%|\|\|)`),
				Severity:    SeverityHigh,
				Description: "SQL built by string concatenation",
				CWE:         "CWE-89",
			},
			{
				Name:        "sql template interpolation",
				Pattern:     regexp.MustCompile("(?i)`(?:SELECT|INSERT INTO|UPDATE|DELETE FROM)[^`]*\\$\\{"),
				Severity:    SeverityHigh,
				Description: "SQL built by template interpolation",
				CWE:         "CWE-89",
				Exts:        []string{".js", ".jsx", ".ts", ".tsx"},
			},
			{
				Name:        "sql f-string",
				Pattern:     regexp.MustCompile(`(?i)f["'](?:SELECT|INSERT INTO|UPDATE|DELETE FROM)\b`),
				Severity:    SeverityHigh,
				Description: "SQL built with an f-string",
				CWE:         "CWE-89",
				Exts:        []string{".py"},
			},
			{
				Name:        "command concatenation",
				Pattern:     regexp.MustCompile(`(?i)\b(?:system|exec|execSync|popen|shell_exec)\s*\([^)]*(?:\+\s*\w|\$\{)`),
				Severity:    SeverityHigh,
				Description: "shell command built from variables",
				CWE:         "CWE-78",
			},
			{
				Name:        "request path into file api",
				Pattern:     regexp.MustCompile(`(?i)\b(?:readFile(?:Sync)?|createReadStream|sendFile|open|fopen|file_get_contents)\s*\([^)]*(?:req\.(?:params|query|body)|request\.(?:args|form|GET|POST))`),
				Severity:    SeverityHigh,
				Description: "request data flows into a file path",
				CWE:         "CWE-22",
			},
			{
				Name:        "xml external entities",
				Pattern:     regexp.MustCompile(`(?i)(?:resolve_entities\s*=\s*True|libxml_disable_entity_loader\s*\(\s*false|external-general-entities["']?\s*,\s*true)`),
				Severity:    SeverityHigh,
				Description: "XML parser accepts external entities",
				CWE:         "CWE-611",
			},
			{
				Name:        "request url into http client",
				Pattern:     regexp.MustCompile(`(?i)\b(?:fetch|axios(?:\.get|\.post)?|requests\.get|urlopen|http\.get)\s*\(\s*(?:req\.(?:params|query|body)|request\.(?:args|form))`),
				Severity:    SeverityMedium,
				Description: "request data used as an outbound URL",
				CWE:         "CWE-918",
			},
			{
				Name:        "html injection sink",
				Pattern:     regexp.MustCompile(`\.innerHTML\s*=\s*[^;\n]{0,80}(?:\+|\$\{)`),
				Severity:    SeverityMedium,
				Description: "dynamic HTML assigned to innerHTML",
				CWE:         "CWE-79",
				Exts:        []string{".js", ".jsx", ".ts", ".tsx"},
			},
		},

		MemoryPatterns: []PatternRule{
			{
				Name:        "banned c string function",
				Pattern:     regexp.MustCompile(`\b(?:strcpy|strcat|sprintf|gets|vsprintf)\s*\(`),
				Severity:    SeverityHigh,
				Description: "unbounded C string function",
				CWE:         "CWE-120",
				Exts:        []string{".c", ".cc", ".cpp", ".h", ".hpp"},
			},
			{
				Name:        "unsafe block",
				Pattern:     regexp.MustCompile(`\bunsafe\s*\{`),
				Severity:    SeverityMedium,
				Description: "unsafe block bypasses memory safety",
				Exts:        []string{".rs"},
			},
			{
				Name:        "unsafe pointer",
				Pattern:     regexp.MustCompile(`\bunsafe\.Pointer\b`),
				Severity:    SeverityMedium,
				Description: "unsafe.Pointer bypasses type safety",
				Exts:        []string{".go"},
			},
		},

		BinaryPenalties: map[string]int{
			".exe":   30,
			".dll":   25,
			".so":    20,
			".dylib": 20,
			".bin":   25,
		},

		ManifestLockfiles: map[string][]string{
			"package.json":     {"package-lock.json", "yarn.lock", "pnpm-lock.yaml"},
			"requirements.txt": {"requirements.lock", "pipfile.lock", "poetry.lock", "uv.lock"},
			"pipfile":          {"pipfile.lock"},
			"pyproject.toml":   {"poetry.lock", "uv.lock", "pdm.lock"},
			"go.mod":           {"go.sum"},
			"cargo.toml":       {"cargo.lock"},
			"gemfile":          {"gemfile.lock"},
			"composer.json":    {"composer.lock"},
		},

		PopularLicenses: []string{
			"mit", "apache", "bsd", "gpl", "lgpl", "mpl", "isc", "unlicense",
		},
		PermissiveLicenses: []string{
			"mit", "apache", "bsd", "isc", "unlicense",
		},

		ActionMajors: map[string]int{
			"actions/checkout":        4,
			"actions/setup-node":      4,
			"actions/setup-python":    5,
			"actions/setup-go":        5,
			"actions/cache":           4,
			"actions/upload-artifact": 4,
		},

		CodeExtensions: map[string]bool{
			".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true,
			".py": true, ".rb": true, ".php": true, ".java": true, ".go": true,
			".rs": true, ".c": true, ".cc": true, ".cpp": true, ".h": true,
			".hpp": true, ".cs": true, ".swift": true, ".kt": true, ".scala": true,
		},
		ScriptExtensions: map[string]bool{
			".sh": true, ".bash": true, ".zsh": true, ".ps1": true,
			".bat": true, ".cmd": true,
		},

		MaxDirectDeps: 50,
	}
}
