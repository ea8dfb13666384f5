package password

import (
	"fmt"
	"runtime"

	"github.com/ilyakaznacheev/cleanenv"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32 `env:"PULSE_ARGON2_MEMORY_KIB" env-default:"65536"`
	Iterations  uint32 `env:"PULSE_ARGON2_ITERATIONS" env-default:"3"`
	Parallelism uint8  `env:"PULSE_ARGON2_PARALLELISM"`
	SaltLength  uint32 `env:"PULSE_ARGON2_SALT_LEN" env-default:"16"`
	KeyLength   uint32 `env:"PULSE_ARGON2_KEY_LEN" env-default:"32"`
}

// Policy bounds what Hash accepts. MaxLength doubles as an anti-DoS limit.
type Policy struct {
	MinLength      int  `env:"PULSE_PASSWORD_MIN_LEN" env-default:"1"`
	MaxLength      int  `env:"PULSE_PASSWORD_MAX_LEN" env-default:"1024"`
	RejectVeryWeak bool `env:"PULSE_PASSWORD_REJECT_WEAK" env-default:"false"`
}

type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the production baseline: 64 MiB, 3 passes, up to 4 lanes.
func DefaultConfig() Config {
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: defaultParallelism(),
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 1,
			MaxLength: 1024,
		},
	}
}

// FromEnv reads PULSE_ARGON2_* and PULSE_PASSWORD_* on top of the defaults.
func FromEnv() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Params.Parallelism == 0 {
		cfg.Params.Parallelism = defaultParallelism()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the parameters are usable and the policy is coherent.
func (c Config) Validate() error {
	p := c.Params
	switch {
	case p.MemoryKiB < 8*1024 || p.MemoryKiB > 1024*1024:
		return fmt.Errorf("%w: memory %d KiB out of range [8192..1048576]", ErrInvalidConfig, p.MemoryKiB)
	case p.Iterations < 1 || p.Iterations > 20:
		return fmt.Errorf("%w: iterations %d out of range [1..20]", ErrInvalidConfig, p.Iterations)
	case p.Parallelism < 1 || p.Parallelism > 64:
		return fmt.Errorf("%w: parallelism %d out of range [1..64]", ErrInvalidConfig, p.Parallelism)
	case p.SaltLength < 8 || p.SaltLength > 64:
		return fmt.Errorf("%w: salt length %d out of range [8..64]", ErrInvalidConfig, p.SaltLength)
	case p.KeyLength < 16 || p.KeyLength > 64:
		return fmt.Errorf("%w: key length %d out of range [16..64]", ErrInvalidConfig, p.KeyLength)
	}

	if c.Policy.MinLength < 1 {
		return fmt.Errorf("%w: min_len must be >= 1", ErrInvalidConfig)
	}
	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf("%w: min_len(%d) > max_len(%d)", ErrInvalidConfig, c.Policy.MinLength, c.Policy.MaxLength)
	}
	return nil
}

// defaultParallelism keeps container resource usage predictable: NumCPU clamped to [1..4].
func defaultParallelism() uint8 {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	if n > 4 {
		n = 4
	}
	return uint8(n) // #nosec G115 -- clamped above.
}
