package conn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionDSN(t *testing.T) {
	testCases := []struct {
		desc    string
		opt     Option
		want    string
		wantErr bool
	}{
		{
			desc: "explicit conn string wins",
			opt:  Option{ConnString: "postgres://x@y/z", Database: "ignored"},
			want: "postgres://x@y/z",
		},
		{
			desc: "defaults",
			opt:  Option{Database: "papertrader"},
			want: "postgres://localhost:5432/papertrader?sslmode=disable",
		},
		{
			desc: "credentials and params",
			opt: Option{Host: "db", Port: 6543, User: "trader", Password: "secret", Database: "pt",
				SSLMode: "require", Params: map[string]string{"application_name": "papertrader", "": "skip"}},
			want: "postgres://trader:secret@db:6543/pt?application_name=papertrader&sslmode=require",
		},
		{
			desc:    "database required",
			opt:     Option{Host: "db"},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := tc.opt.dsn()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
