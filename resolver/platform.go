package resolver

import "regexp"

const UnknownPlatform = "unknown platform"

type platform struct {
	name    string
	pattern *regexp.Regexp
}

// Hosts that are subdomains of another listed host come first.
var platforms = []platform{
	{"Douyin", regexp.MustCompile(`(^|[./])douyin\.com`)},
	{"Kuaishou", regexp.MustCompile(`(^|[./])kuaishou\.com`)},
	{"Xiaohongshu", regexp.MustCompile(`xiaohongshu\.com|xhslink\.com`)},
	{"Pipixia", regexp.MustCompile(`pipix\.(mndmedia\.)?com`)},
	{"Xigua Video", regexp.MustCompile(`xigua\.video|ixigua\.com`)},
	{"Zuiyou", regexp.MustCompile(`zuiyou\.com|izuiyou\.com`)},
	{"Huoshan", regexp.MustCompile(`huoshan\.com`)},
	{"Oasis", regexp.MustCompile(`zoo\.weibo\.com`)},
	{"Weibo", regexp.MustCompile(`weibo\.(com|cn)`)},
	{"Weishi", regexp.MustCompile(`weishi\.(tv|qq\.com)`)},
	{"Bilibili", regexp.MustCompile(`bilibili\.com|b23\.tv`)},
	{"Momo", regexp.MustCompile(`momo(m)?\.com`)},
	{"Quanmin K-Song", regexp.MustCompile(`kg\.quanmin\.com`)},
	{"Quanmin Video", regexp.MustCompile(`quanmin\.com`)},
	{"Doupai", regexp.MustCompile(`dou\.pai\.com|doupai\.cc`)},
	{"Meipai", regexp.MustCompile(`mei\.pai\.com|meipai\.com`)},
	{"Liujianfang", regexp.MustCompile(`liujianfang\.com|(^|[./])6\.cn`)},
	{"Pear Video", regexp.MustCompile(`lireader\.com|pearvideo\.com`)},
	{"Huya", regexp.MustCompile(`huya\.com`)},
	{"Xinpianchang", regexp.MustCompile(`xinpianchang\.com`)},
	{"AcFun", regexp.MustCompile(`acfun\.cn`)},
}

// IdentifyPlatform names the short-video platform a link belongs to.
func IdentifyPlatform(link string) string {
	for _, p := range platforms {
		if p.pattern.MatchString(link) {
			return p.name
		}
	}
	return UnknownPlatform
}
