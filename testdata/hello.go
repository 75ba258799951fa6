package demo

//obf:protect
func hello() {
	obf.Labyrinth()
	obf.Nop()
	s1 := obf.Str("Hello from test_hello.cpp")
	s2 := obf.Str("2 + 3 = %d\n")
	printf("%s\n", s1)
	printf(s2, obf.Add(2, 3))
}

//obf:protect profile=heavy
func fib(n uint32) uint64 {
	a, b := uint64(0), uint64(1)
	for i := uint32(0); i < n; i++ {
		a, b = b, obf.Add(a, b)
	}
	return a
}

//obf:protect profile=medium
func greet(name string) {
	println(obf.Str("hello,"), name)
}
